package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dotlanth/dotvm/pkg/hostapi"
	"github.com/dotlanth/dotvm/pkg/types"
)

// buildDeployRequest reads exactly one of bytecodePath/wasmPath off
// disk and builds the corresponding hostapi.DeployRequest.
func buildDeployRequest(dotID types.DotID, arch types.Architecture, bytecodePath, wasmPath string) (hostapi.DeployRequest, error) {
	switch {
	case bytecodePath != "" && wasmPath != "":
		return hostapi.DeployRequest{}, fmt.Errorf("pass exactly one of --bytecode or --wasm, not both")
	case bytecodePath != "":
		b, err := os.ReadFile(bytecodePath)
		if err != nil {
			return hostapi.DeployRequest{}, fmt.Errorf("read bytecode: %w", err)
		}
		return hostapi.DeployRequest{DotID: dotID, Architecture: arch, Bytecode: b}, nil
	case wasmPath != "":
		b, err := os.ReadFile(wasmPath)
		if err != nil {
			return hostapi.DeployRequest{}, fmt.Errorf("read wasm: %w", err)
		}
		return hostapi.DeployRequest{DotID: dotID, Architecture: arch, Wasm: b}, nil
	default:
		return hostapi.DeployRequest{}, fmt.Errorf("pass --bytecode or --wasm")
	}
}

// artifactPath is where deploy persists the source it deployed from,
// so a later execute/inspect invocation (a separate process, with no
// access to the prior one's in-memory dot registry) can redeploy the
// same module without the caller repeating --bytecode/--wasm.
func artifactPath(cmd *cobra.Command, dotID types.DotID) string {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		cfg, err := loadConfig(cmd)
		if err == nil {
			dataDir = cfg.DataDir
		}
	}
	return filepath.Join(dataDir, "dots", string(dotID)+".deploy")
}

const (
	artifactKindBytecode = 'B'
	artifactKindWasm     = 'W'
)

// saveArtifact writes req's source payload and architecture to path
// in a small format artifactPath/loadArtifact round-trip: one kind
// byte, one length-prefixed architecture string, then the raw
// bytecode or WASM bytes.
func saveArtifact(path string, req hostapi.DeployRequest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	kind := byte(artifactKindBytecode)
	payload := req.Bytecode
	if len(req.Wasm) > 0 {
		kind = artifactKindWasm
		payload = req.Wasm
	}

	arch := []byte(req.Architecture)
	buf := make([]byte, 0, 2+len(arch)+len(payload))
	buf = append(buf, kind, byte(len(arch)))
	buf = append(buf, arch...)
	buf = append(buf, payload...)

	return os.WriteFile(path, buf, 0o644)
}

// loadArtifact reverses saveArtifact, rebuilding the DeployRequest
// that produced it.
func loadArtifact(path string, dotID types.DotID) (hostapi.DeployRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return hostapi.DeployRequest{}, fmt.Errorf("no deployment recorded for %s (run deploy first): %w", dotID, err)
	}
	if len(raw) < 2 {
		return hostapi.DeployRequest{}, fmt.Errorf("corrupt deployment artifact %s", path)
	}

	kind := raw[0]
	archLen := int(raw[1])
	if len(raw) < 2+archLen {
		return hostapi.DeployRequest{}, fmt.Errorf("corrupt deployment artifact %s", path)
	}
	arch := types.Architecture(raw[2 : 2+archLen])
	payload := raw[2+archLen:]

	req := hostapi.DeployRequest{DotID: dotID, Architecture: arch}
	switch kind {
	case artifactKindWasm:
		req.Wasm = payload
	default:
		req.Bytecode = payload
	}
	return req, nil
}
