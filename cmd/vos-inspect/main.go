// Command vos-inspect opens a pool's data directory read-write (the engine
// has no separate read-only mode) and prints its container/object
// population and allocator statistics, either once or on a fixed interval.
//
// It replaces the original arena-cache-inspect's HTTP snapshot fetcher: a
// local storage engine has no running process to poll, so inspection here
// means opening the pool directly rather than querying a debug endpoint.
// Prometheus metrics remain available separately via vos.WithMetrics for
// services that do run as long-lived processes.
package main

import (
    "fmt"
    "os"
    "time"

    "github.com/spf13/cobra"

    "github.com/distvos/vos/pkg/vos"
)

var version = "dev"

func main() {
    if err := newRootCmd().Execute(); err != nil {
        fmt.Fprintln(os.Stderr, "vos-inspect:", err)
        os.Exit(1)
    }
}

func newRootCmd() *cobra.Command {
    root := &cobra.Command{
        Use:           "vos-inspect",
        Short:         "Inspect a VOS pool's container/object population and allocator stats",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    root.AddCommand(newVersionCmd(), newStatCmd())
    return root
}

func newVersionCmd() *cobra.Command {
    return &cobra.Command{
        Use:   "version",
        Short: "Print vos-inspect's version",
        RunE: func(cmd *cobra.Command, args []string) error {
            fmt.Fprintln(cmd.OutOrStdout(), version)
            return nil
        },
    }
}

func newStatCmd() *cobra.Command {
    var dataDir string
    var memClass string
    var watch bool
    var interval time.Duration

    cmd := &cobra.Command{
        Use:   "stat",
        Short: "Print container/object counts and allocator usage for a pool",
        RunE: func(cmd *cobra.Command, args []string) error {
            opt := vos.WithMemClass(memClassFromFlag(memClass))
            eng, err := vos.New(vos.WithDataDir(dataDir), opt)
            if err != nil {
                return err
            }
            defer eng.Close()

            print := func() error {
                stats, err := eng.Stat()
                if err != nil {
                    return err
                }
                fmt.Fprintf(cmd.OutOrStdout(), "containers=%d objects=%d backend=%s used_bytes=%d\n",
                    stats.Containers, stats.Objects, stats.Attrs.Backend, stats.Attrs.Used)
                return nil
            }

            if !watch {
                return print()
            }
            ticker := time.NewTicker(interval)
            defer ticker.Stop()
            for {
                if err := print(); err != nil {
                    fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
                }
                <-ticker.C
            }
        },
    }
    cmd.Flags().StringVar(&dataDir, "data-dir", "vos-data", "pool data directory")
    cmd.Flags().StringVar(&memClass, "mem-class", "badger", "allocator backend: badger or dram")
    cmd.Flags().BoolVar(&watch, "watch", false, "repeat every --interval instead of printing once")
    cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval for --watch")
    return cmd
}

func memClassFromFlag(s string) vos.MemClass {
    if s == "dram" {
        return vos.MemClassDRAM
    }
    return vos.MemClassBadger
}
