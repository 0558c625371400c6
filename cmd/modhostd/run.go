package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/nmxmxh/inos_v1/internal/network"
	"github.com/nmxmxh/inos_v1/kernel/threads/sab"
	"github.com/nmxmxh/inos_v1/pkg/meshannounce"
	"github.com/nmxmxh/inos_v1/pkg/modhost/export"
	"github.com/nmxmxh/inos_v1/pkg/modhost/loadingset"
	"github.com/nmxmxh/inos_v1/pkg/modhost/orchestrator"
	"github.com/nmxmxh/inos_v1/pkg/modhost/param"
	"github.com/nmxmxh/inos_v1/pkg/modhost/registry"
	"github.com/nmxmxh/inos_v1/pkg/sabmem"
	"github.com/nmxmxh/inos_v1/pkg/wasmplugin"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load every .wasm plugin in --plugin-dir and keep the host alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
}

func run(cmd *cobra.Command) error {
	logger := loggerFromFlags()
	dir := viper.GetString("plugin-dir")
	abi := uint32(viper.GetUint32("abi"))

	matches, err := filepath.Glob(filepath.Join(dir, "*.wasm"))
	if err != nil {
		return fmt.Errorf("glob %s: %w", dir, err)
	}

	reg := registry.New(logger)
	set := loadingset.New()
	provider := wasmplugin.NewProvider()

	var loadErrs error
	for _, path := range matches {
		accepted, rejections, err := set.AppendFromBinary(provider, path, abi, nil)
		if err != nil {
			loadErrs = multierr.Append(loadErrs, fmt.Errorf("stage %s: %w", path, err))
			continue
		}
		for _, r := range rejections {
			logger.Warn("rejected export record", "path", path, "error", r)
		}
		logger.Info("staged plugin", "path", path, "accepted_records", accepted)
	}
	if loadErrs != nil {
		logger.Error("one or more plugins failed to stage", "error", loadErrs)
	}

	before := reg.Snapshot()
	orc := orchestrator.New(reg, abi, 0, logger)
	orc.ParamBacking = setupParamBacking(logger)
	if err := orc.Finish(set); err != nil {
		return fmt.Errorf("finish loading set: %w", err)
	}

	snap := reg.Snapshot()
	logger.Info("host ready", "modules", len(snap.Modules))

	ctx := context.Background()
	if announcer := setupMeshAnnounce(ctx, logger); announcer != nil {
		for _, ev := range meshannounce.SnapshotEvents(before, snap) {
			if err := announcer.Broadcast(ctx, ev); err != nil {
				logger.Warn("mesh announce failed", "event", ev, "error", err)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	return nil
}

// setupParamBacking builds a sabmem.Store over an in-memory
// sab.MemoryProvider sized by --param-sab-bytes and returns the
// param.Backing factory the orchestrator should hand to every module's
// parameters. Returns nil (process-local storage) when the flag is 0, the
// default. U64 and I64 parameters always get process-local storage, since a
// sabmem slot holds 32 bits.
func setupParamBacking(logger *slog.Logger) func(string, export.ParameterDecl) param.Backing {
	size := viper.GetUint32("param-sab-bytes")
	if size == 0 {
		return nil
	}

	provider := sab.NewInMemoryProvider(size)
	store := sabmem.NewStore(provider)
	logger.Info("parameters backed by shared-memory region", "bytes", size)

	return func(ownerName string, decl export.ParameterDecl) param.Backing {
		if decl.Type == export.U64 || decl.Type == export.I64 {
			return nil
		}
		backing, err := store.Allocate()
		if err != nil {
			logger.Warn("sabmem allocation failed, falling back to process-local storage", "module", ownerName, "parameter", decl.Name, "error", err)
			return nil
		}
		return backing
	}
}

// setupMeshAnnounce starts a libp2p host and registers a meshannounce.Announcer
// on it when --mesh-identity is set; returns nil if mesh announcing is
// disabled (the default).
func setupMeshAnnounce(ctx context.Context, logger *slog.Logger) *meshannounce.Announcer {
	identityPath := viper.GetString("mesh-identity")
	if identityPath == "" {
		return nil
	}

	host, err := network.NewPersistentHost(identityPath)
	if err != nil {
		logger.Warn("mesh host startup failed, continuing without mesh announce", "error", err)
		return nil
	}
	logger.Info("mesh host started", "peer_id", host.ID().String())

	announcer := meshannounce.New(host, logger, func(from peer.ID, ev meshannounce.Event) {
		logger.Info("received mesh announce", "from", from.String(), "kind", ev.Kind, "module", ev.Module)
	})

	if seed := viper.GetString("mesh-seed"); seed != "" {
		if _, err := meshannounce.Dial(ctx, host, seed); err != nil {
			logger.Warn("mesh seed dial failed", "seed", seed, "error", err)
		}
	}

	return announcer
}
