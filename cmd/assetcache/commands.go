package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"assetcache/internal/domain"
	workerconfig "assetcache/internal/interface/repository/config"
	"assetcache/internal/interface/repository/metrics"
	"assetcache/internal/interface/repository/network"
	"assetcache/internal/usecase"
)

var (
	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install and activate the configured worker version, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	bucketsCmd = &cobra.Command{
		Use:   "buckets",
		Short: "List cache buckets and their entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuckets(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear [bucket...]",
		Short: "Delete the named buckets, or every bucket when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd.Context(), cfg, args, cmd.OutOrStdout())
		},
	}
)

// runInstall は1回だけワーカーを登録し、インストール結果を表示する
func runInstall(ctx context.Context, cfg *config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.prepareDirectories(); err != nil {
		return err
	}
	log, err := cfg.newLogger("install.log")
	if err != nil {
		return err
	}
	defer log.Close()

	storage, closeStorage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	f, err := workerconfig.Load(cfg.workerConfigPath())
	if err != nil {
		return err
	}
	workerConfig, err := f.WorkerConfig()
	if err != nil {
		return err
	}

	fetcher := network.New(cfg.FetchTimeout)
	defer fetcher.CloseIdleConnections()
	m := metrics.New("")
	registration := usecase.NewRegistration(storage, fetcher, m, log)

	worker, regErr := registration.Register(ctx, workerConfig)
	if worker == nil {
		return regErr
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := registration.Close(waitCtx); err != nil {
		return err
	}

	snapshot := m.GetSnapshot()
	fmt.Fprintf(out, "worker %s (%s) %s\n", worker.CacheName(), worker.ID(), worker.State())
	fmt.Fprintf(out, "precached %d of %d assets, %d failed\n",
		snapshot.PrecacheSuccesses, len(workerConfig.Manifest), snapshot.PrecacheFailures)
	fmt.Fprintf(out, "deleted %d stale buckets\n", snapshot.BucketsEvicted)
	return regErr
}

// runBuckets はバケット一覧を表示する
func runBuckets(ctx context.Context, cfg *config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	storage, closeStorage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	return listBuckets(ctx, storage, out)
}

func listBuckets(ctx context.Context, storage domain.CacheStorage, out io.Writer) error {
	names, err := storage.Keys(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUCKET\tENTRIES")
	for _, name := range names {
		bucket, err := storage.Lookup(ctx, name)
		if err != nil {
			return err
		}
		keys, err := bucket.Keys(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\n", name, len(keys))
	}
	return tw.Flush()
}

// runClear は指定したバケットを削除する
func runClear(ctx context.Context, cfg *config, names []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	storage, closeStorage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	return clearBuckets(ctx, storage, names, out)
}

func clearBuckets(ctx context.Context, storage domain.CacheStorage, names []string, out io.Writer) error {
	if len(names) == 0 {
		all, err := storage.Keys(ctx)
		if err != nil {
			return err
		}
		names = all
	}

	for _, name := range names {
		deleted, err := storage.Delete(ctx, name)
		if err != nil {
			return fmt.Errorf("delete bucket %s: %w", name, err)
		}
		if deleted {
			fmt.Fprintf(out, "deleted %s\n", name)
		} else {
			fmt.Fprintf(out, "no bucket named %s\n", name)
		}
	}
	return nil
}
