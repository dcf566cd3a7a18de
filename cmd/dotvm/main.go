// Command dotvm is a thin demonstration binary over the VM-host
// contract (pkg/hostapi): deploy/execute/validate/inspect wrap
// pkg/engine.Engine directly, and serve exposes the ambient
// Prometheus/health endpoints the rest of the stack already
// instruments. It is not a gateway, a TUI, or a gRPC service — those
// surfaces stay out of scope; this binary exists so the VM-host
// contract has a runnable front door at all.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotlanth/dotvm/pkg/config"
	"github.com/dotlanth/dotvm/pkg/engine"
	"github.com/dotlanth/dotvm/pkg/hostapi"
	"github.com/dotlanth/dotvm/pkg/log"
	"github.com/dotlanth/dotvm/pkg/metrics"
	"github.com/dotlanth/dotvm/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dotvm",
	Short: "DotVM - a stack-based multi-architecture bytecode VM with an embedded authenticated store",
	Long: `DotVM executes dots (deployed bytecode modules, optionally transpiled
from WASM) against a page-based storage engine whose state is
authenticated through a Merkle-Patricia trie.

This binary is a thin wrapper over the VM-host contract: deploy,
execute, validate, inspect.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"dotvm version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to a dotvm.yaml config file (defaults to built-in defaults)")
	rootCmd.PersistentFlags().String("data-dir", "", "Override the config's data directory")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// loadConfig resolves the persistent --config/--data-dir flags into a
// config.Config, falling back to config.Default() when --config is
// unset.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openEngine loads the command's config and opens an Engine against
// it. Callers must Close it.
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	e, err := engine.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return e, nil
}

func architectureFlag(cmd *cobra.Command) (types.Architecture, error) {
	raw, _ := cmd.Flags().GetString("arch")
	a := types.Architecture(raw)
	if !a.Valid() {
		return "", fmt.Errorf("unknown architecture %q (want one of arch64, arch128, arch256, arch512)", raw)
	}
	return a, nil
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a dot from compiled bytecode or a WASM binary",
	RunE: func(cmd *cobra.Command, args []string) error {
		dotID, _ := cmd.Flags().GetString("dot-id")
		bytecodePath, _ := cmd.Flags().GetString("bytecode")
		wasmPath, _ := cmd.Flags().GetString("wasm")
		arch, err := architectureFlag(cmd)
		if err != nil {
			return err
		}
		if dotID == "" {
			return fmt.Errorf("--dot-id is required")
		}

		e, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := buildDeployRequest(types.DotID(dotID), arch, bytecodePath, wasmPath)
		if err != nil {
			return err
		}

		ctx := context.Background()
		if err := e.Deploy(ctx, req); err != nil {
			return fmt.Errorf("deploy: %w", err)
		}
		if err := saveArtifact(artifactPath(cmd, types.DotID(dotID)), req); err != nil {
			return fmt.Errorf("persist deployment artifact: %w", err)
		}

		fmt.Printf("deployed %s (%s)\n", dotID, arch)
		return nil
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute (or resume) one call into a deployed dot",
	RunE: func(cmd *cobra.Command, args []string) error {
		dotID, _ := cmd.Flags().GetString("dot-id")
		funcIndex, _ := cmd.Flags().GetInt("func-index")
		resumeToken, _ := cmd.Flags().GetString("resume-token")
		if dotID == "" {
			return fmt.Errorf("--dot-id is required")
		}

		e, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := loadArtifact(artifactPath(cmd, types.DotID(dotID)), types.DotID(dotID))
		if err != nil {
			return fmt.Errorf("redeploy %s: %w", dotID, err)
		}

		ctx := context.Background()
		if err := e.Deploy(ctx, req); err != nil {
			return fmt.Errorf("redeploy %s: %w", dotID, err)
		}

		out, err := e.Execute(ctx, hostapi.ExecuteRequest{
			DotID:       types.DotID(dotID),
			FuncIndex:   funcIndex,
			ResumeToken: resumeToken,
		})
		if err != nil {
			return fmt.Errorf("execute: %w", err)
		}

		fmt.Printf("state: %s, instructions: %d\n", out.State, out.Instructions)
		if out.ResumeToken != "" {
			fmt.Printf("resume token: %s\n", out.ResumeToken)
		}
		if out.Err != nil {
			return fmt.Errorf("trap: %w", out.Err)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check bytecode or a WASM binary without deploying it",
	RunE: func(cmd *cobra.Command, args []string) error {
		bytecodePath, _ := cmd.Flags().GetString("bytecode")
		wasmPath, _ := cmd.Flags().GetString("wasm")
		arch, err := architectureFlag(cmd)
		if err != nil {
			return err
		}

		e, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := buildDeployRequest("validate-only", arch, bytecodePath, wasmPath)
		if err != nil {
			return err
		}

		if err := e.Validate(req); err != nil {
			return fmt.Errorf("invalid: %w", err)
		}
		fmt.Println("ok")
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Report a deployed dot's architecture and export table",
	RunE: func(cmd *cobra.Command, args []string) error {
		dotID, _ := cmd.Flags().GetString("dot-id")
		if dotID == "" {
			return fmt.Errorf("--dot-id is required")
		}

		e, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := loadArtifact(artifactPath(cmd, types.DotID(dotID)), types.DotID(dotID))
		if err != nil {
			return fmt.Errorf("redeploy %s: %w", dotID, err)
		}
		if err := e.Deploy(context.Background(), req); err != nil {
			return fmt.Errorf("redeploy %s: %w", dotID, err)
		}

		st, err := e.GetState(types.DotID(dotID))
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}

		fmt.Printf("dot:          %s\n", st.DotID)
		fmt.Printf("architecture: %s\n", st.Architecture)
		fmt.Printf("exports:\n")
		for _, name := range st.Exports {
			fmt.Printf("  - %s\n", name)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Prometheus /metrics and /health endpoints",
	Long: `serve opens the engine against the configured data directory and
blocks, exposing /metrics, /health, /ready, and /live for an external
scraper or orchestrator liveness probe. It does not expose deploy or
execute over the network: that contract surface is out of scope.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		e, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		metrics.SetVersion(Version)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())

		fmt.Printf("serving metrics and health endpoints on %s\n", addr)
		return http.ListenAndServe(addr, mux)
	},
}

func init() {
	deployCmd.Flags().String("dot-id", "", "Identifier to deploy under")
	deployCmd.Flags().String("arch", string(types.Arch256), "Target architecture (arch64, arch128, arch256, arch512)")
	deployCmd.Flags().String("bytecode", "", "Path to a compiled .dotbc module")
	deployCmd.Flags().String("wasm", "", "Path to a WASM binary to transpile before deploying")

	executeCmd.Flags().String("dot-id", "", "Dot to execute")
	executeCmd.Flags().Int("func-index", 0, "Function index to call")
	executeCmd.Flags().String("resume-token", "", "Resume a previously suspended/waiting context instead of starting fresh")

	validateCmd.Flags().String("arch", string(types.Arch256), "Target architecture (arch64, arch128, arch256, arch512)")
	validateCmd.Flags().String("bytecode", "", "Path to a compiled .dotbc module")
	validateCmd.Flags().String("wasm", "", "Path to a WASM binary")

	inspectCmd.Flags().String("dot-id", "", "Dot to inspect")

	serveCmd.Flags().String("addr", "127.0.0.1:9090", "Listen address for /metrics and /health")
}
