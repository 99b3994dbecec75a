// Package buildinfo exposes build information for dagnode.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/dagnode/internal/infra/buildinfo.Version=v0.3.0 \
//	  -X github.com/yndnr/dagnode/internal/infra/buildinfo.Commit=$(git rev-parse --short HEAD)"
//
// GoVersion falls back to the runtime version when not injected.
package buildinfo
