// Copyright 2024 The CFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/hqy2000/cfs/internal/block"
	"github.com/hqy2000/cfs/internal/capsule"
	"github.com/hqy2000/cfs/internal/config"
	"github.com/hqy2000/cfs/internal/fileview"
	"github.com/hqy2000/cfs/internal/fserrors"
	"github.com/hqy2000/cfs/internal/fsbridge"
	"github.com/hqy2000/cfs/internal/fsfacade"
	"github.com/hqy2000/cfs/internal/inodecache"
	"github.com/hqy2000/cfs/internal/keyfile"
	"github.com/hqy2000/cfs/internal/logger"
	"github.com/hqy2000/cfs/internal/metrics"
	"github.com/hqy2000/cfs/internal/middleware"
	"github.com/hqy2000/cfs/internal/rpc"
	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	fsName  = "cfs"
	subtype = "cfs"

	// inBackgroundModeEnvVar marks the re-exec'd daemon child, mirroring
	// gcsfuse's logger.GCSFuseInBackgroundMode env var (cmd/legacy_main.go).
	inBackgroundModeEnvVar = "CFS_IN_BACKGROUND_MODE"
)

// mount either daemonizes (re-executing itself in the background and
// waiting for the daemon to signal its mount outcome) or, when foreground
// is set or this is already the re-exec'd daemon, mounts directly and
// blocks until the filesystem is unmounted. Mirrors the
// daemonize.Run/daemonize.SignalOutcome split in cmd/legacy_main.go.
func mount(ctx context.Context, mountPoint string, cfg *config.Config, foreground bool) error {
	if !foreground {
		return daemonizeMount(mountPoint)
	}
	return mountForeground(ctx, mountPoint, cfg)
}

func daemonizeMount(mountPoint string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("os.Executable: %w", err)
	}

	args := append(append([]string{}, os.Args[1:]...), "--foreground")
	env := append(os.Environ(), inBackgroundModeEnvVar+"=true")

	if err := daemonize.Run(execPath, args, env, os.Stdout); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	logger.Infof("File system has been successfully mounted at %q.\n", mountPoint)
	return nil
}

func mountForeground(ctx context.Context, mountPoint string, cfg *config.Config) error {
	inBackground := os.Getenv(inBackgroundModeEnvVar) == "true"
	signalOutcome := func(outcome error) {
		if !inBackground {
			return
		}
		if err := daemonize.SignalOutcome(outcome); err != nil {
			logger.Errorf("Failed to signal mount outcome to parent process: %v", err)
		}
	}

	m := metrics.New()
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr, m)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				logger.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	bridge, err := buildBridge(ctx, cfg, m)
	if err != nil {
		signalOutcome(err)
		return err
	}

	logger.Infof("Mounting file system %q...", mountPoint)
	mfs, err := fuse.Mount(mountPoint, bridge, getFuseMountConfig(cfg))
	signalOutcome(err)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	logger.Infof("File system has been successfully mounted at %q.\n", mountPoint)
	return mfs.Join(ctx)
}

// buildBridge wires config into the capsule clients, middleware, inode
// cache, file view, and façade the way internal/fsbridge's own package doc
// says the kernel bridge adapter sits: one layer over internal/fsfacade,
// which composes internal/inodecache and internal/fileview.
func buildBridge(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*fsbridge.Bridge, error) {
	dataTransport, err := dialCapsule(cfg.DataServer.URL, cfg.TLS.CA)
	if err != nil {
		return nil, fmt.Errorf("dial data-server %q: %w", cfg.DataServer.URL, err)
	}
	inodeTransport, err := dialCapsule(cfg.InodeServer.URL, cfg.TLS.CA)
	if err != nil {
		return nil, fmt.Errorf("dial inode-server %q: %w", cfg.InodeServer.URL, err)
	}

	var verifyingKey *rsa.PublicKey
	if cfg.IsCryptoEnabled {
		verifyingKey, err = keyfile.LoadPublicKey(cfg.Middleware.VerifyingKey)
		if err != nil {
			return nil, fmt.Errorf("load middleware.verifying-key: %w", err)
		}
	}

	dataClient := capsule.NewClient(capsule.ClientConfig{
		Transport:     dataTransport,
		CacheSize:     cfg.DataServer.CacheSize,
		VerifyingKey:  verifyingKey,
		CryptoEnabled: cfg.IsCryptoEnabled,
		Metrics:       m,
		Name:          "data",
	})
	inodeClient := capsule.NewClient(capsule.ClientConfig{
		Transport:     inodeTransport,
		CacheSize:     cfg.InodeServer.CacheSize,
		VerifyingKey:  verifyingKey,
		CryptoEnabled: cfg.IsCryptoEnabled,
		Metrics:       m,
		Name:          "inode",
	})

	mw, err := buildMiddleware(cfg, inodeClient, dataClient)
	if err != nil {
		return nil, err
	}

	cache := inodecache.New(inodeClient, mw, nil)
	buildStart := time.Now()
	if err := cache.Build(ctx, cfg.InodeServer.Root); err != nil {
		return nil, fmt.Errorf("build inode cache: %w", err)
	}
	m.ObserveInodeCacheBuild(time.Since(buildStart))

	view := fileview.New(int(cfg.BlockSize), dataClient, mw)

	facade := fsfacade.New(fsfacade.Config{
		Cache:     cache,
		View:      view,
		BlockSize: int(cfg.BlockSize),
		MountUid:  cfg.Middleware.Uid,
	})

	return fsbridge.New(facade), nil
}

// writeMiddleware is the union of internal/inodecache.Middleware and
// internal/fileview.Middleware: everything a Facade's write paths need
// from a middleware, whether it is local, remote, or refusing.
type writeMiddleware interface {
	PutInode(ctx context.Context, fb block.FsBlock) (capsule.PutResult, error)
	PutData(ctx context.Context, fb block.FsBlock, inodeHash string) (capsule.PutResult, error)
	GetID(ctx context.Context, uid uint64) (block.Id, error)
}

// buildMiddleware picks the middleware a mount writes through: a local,
// signing one when middleware.signing-key is set; a remote one over gRPC
// when middleware.url is set instead; or, for a read-only mount (spec.md
// §6: "absent ⇒ read-only"), a stub that refuses every write.
func buildMiddleware(cfg *config.Config, inodeClient, dataClient *capsule.Client) (writeMiddleware, error) {
	if cfg.Middleware.SigningKey != "" {
		signingKey, err := keyfile.LoadPrivateKey(cfg.Middleware.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("load middleware.signing-key: %w", err)
		}
		mw, err := middleware.New(middleware.Config{
			SigningKey:    signingKey,
			Uid:           cfg.Middleware.Uid,
			InodeCapsule:  inodeClient,
			DataCapsule:   dataClient,
			CryptoEnabled: cfg.IsCryptoEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("construct middleware: %w", err)
		}
		return mw, nil
	}

	if cfg.Middleware.URL != "" {
		creds, err := transportCredentials(cfg.TLS.CA)
		if err != nil {
			return nil, err
		}
		cc, err := grpc.NewClient(cfg.Middleware.URL, grpc.WithTransportCredentials(creds))
		if err != nil {
			return nil, fmt.Errorf("grpc.NewClient(%s): %w", cfg.Middleware.URL, err)
		}
		return rpc.NewMiddlewareClient(cc), nil
	}

	return refusingMiddleware{}, nil
}

// refusingMiddleware backs a read-only mount: every write through it fails
// with a PermissionDeniedError, the same error fsbridge maps to a
// permission-denied errno for the kernel.
type refusingMiddleware struct{}

func (refusingMiddleware) PutInode(context.Context, block.FsBlock) (capsule.PutResult, error) {
	return capsule.PutResult{}, &fserrors.PermissionDeniedError{What: "mount is read-only: no middleware.signing-key configured"}
}

func (refusingMiddleware) PutData(context.Context, block.FsBlock, string) (capsule.PutResult, error) {
	return capsule.PutResult{}, &fserrors.PermissionDeniedError{What: "mount is read-only: no middleware.signing-key configured"}
}

func (refusingMiddleware) GetID(context.Context, uint64) (block.Id, error) {
	return block.Id{}, &fserrors.PermissionDeniedError{What: "mount is read-only: no middleware.signing-key configured"}
}

func dialCapsule(url string, ca string) (capsule.Transport, error) {
	creds, err := transportCredentials(ca)
	if err != nil {
		return nil, err
	}
	cc, err := grpc.NewClient(url, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("grpc.NewClient(%s): %w", url, err)
	}
	return rpc.NewCapsuleClient(cc), nil
}

// transportCredentials pins the gRPC transport to tls.ca's certificate
// anchor when set, otherwise dials in the clear (spec.md §6's tls.ca is
// optional; a plaintext deployment is the common local/test case exercised
// throughout internal/rpc's own bufconn tests).
func transportCredentials(ca string) (credentials.TransportCredentials, error) {
	if ca == "" {
		return insecure.NewCredentials(), nil
	}
	pem, err := os.ReadFile(ca)
	if err != nil {
		return nil, fmt.Errorf("read tls.ca %q: %w", ca, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tls.ca %q: no certificates found", ca)
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func getFuseMountConfig(cfg *config.Config) *fuse.MountConfig {
	mountCfg := &fuse.MountConfig{
		FSName:     fsName,
		Subtype:    subtype,
		VolumeName: fsName,
		// Distinct inodes never alias the same (parent, filename) pair
		// concurrently (spec.md §4.5's at-most-one-live-child invariant), so
		// parallel lookups and readdirs are always safe.
		EnableParallelDirOps: true,
	}

	severity := logger.ParseSeverity(cfg.Logging.Severity)
	if severity >= logger.Error {
		mountCfg.ErrorLogger = logger.NewLegacyLogger(logger.Error, "fuse: ")
	}
	if severity >= logger.Trace {
		mountCfg.DebugLogger = logger.NewLegacyLogger(logger.Trace, "fuse_debug: ")
	}
	return mountCfg
}
