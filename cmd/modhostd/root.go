package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nmxmxh/inos_v1/internal/telemetry"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "modhostd",
		Short: "Load and run native plugin modules out of a directory",
	}

	root.PersistentFlags().String("plugin-dir", ".", "directory to scan for .wasm plugins")
	root.PersistentFlags().Uint32("abi", 1, "ABI version this host supports")
	root.PersistentFlags().String("log-format", "text", "log output format: text or json")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().String("mesh-identity", "", "path to a persisted libp2p identity file (empty: ephemeral identity, mesh announce disabled)")
	root.PersistentFlags().String("mesh-seed", "", "multiaddr of a peer to dial on startup")
	root.PersistentFlags().Uint32("param-sab-bytes", 0, "size in bytes of a shared-memory region to back module parameters (0: use process-local storage)")
	_ = viper.BindPFlag("plugin-dir", root.PersistentFlags().Lookup("plugin-dir"))
	_ = viper.BindPFlag("abi", root.PersistentFlags().Lookup("abi"))
	_ = viper.BindPFlag("log-format", root.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("mesh-identity", root.PersistentFlags().Lookup("mesh-identity"))
	_ = viper.BindPFlag("mesh-seed", root.PersistentFlags().Lookup("mesh-seed"))
	_ = viper.BindPFlag("param-sab-bytes", root.PersistentFlags().Lookup("param-sab-bytes"))
	viper.SetEnvPrefix("modhostd")
	viper.AutomaticEnv()

	root.AddCommand(newRunCmd())
	return root
}

func loggerFromFlags() *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return telemetry.New(telemetry.Options{
		Level: level,
		JSON:  viper.GetString("log-format") == "json",
	})
}
