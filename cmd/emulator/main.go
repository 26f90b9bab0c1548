/*
Copyright 2019 The Crossplane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/crossplane-contrib/cloudlocal/internal/blobstore"
	"github.com/crossplane-contrib/cloudlocal/internal/compute"
	"github.com/crossplane-contrib/cloudlocal/internal/emuconfig"
	"github.com/crossplane-contrib/cloudlocal/internal/emulog"
	"github.com/crossplane-contrib/cloudlocal/internal/httpapi"
	"github.com/crossplane-contrib/cloudlocal/internal/identity"
	"github.com/crossplane-contrib/cloudlocal/internal/lifecycle"
	"github.com/crossplane-contrib/cloudlocal/internal/objects"
	"github.com/crossplane-contrib/cloudlocal/internal/reconciler"
	"github.com/crossplane-contrib/cloudlocal/internal/rundriver"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
	"github.com/crossplane-contrib/cloudlocal/internal/vpc"
)

// staleProvisioningGrace bounds how long an instance may sit in
// PROVISIONING with no container id before the reconciler gives up on it
// and marks it TERMINATED.
const staleProvisioningGrace = 2 * time.Minute

func main() {
	cfg, err := emuconfig.Parse(filepath.Base(os.Args[0]), os.Args[1:])
	kingpin.FatalIfError(err, "cannot parse configuration")

	log := emulog.New("emulator", cfg.Debug)
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatalw("emulator exited", "error", err)
	}
}

func run(cfg *emuconfig.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.StorageRoot), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0o755); err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	blobs, err := blobstore.New(cfg.StorageRoot)
	if err != nil {
		return err
	}

	driver, err := rundriver.New(cfg.ContainerRuntimeEndpoint)
	if err != nil {
		return err
	}

	_, autoSupernet, err := net.ParseCIDR(cfg.AutoModeSupernet)
	if err != nil {
		return err
	}
	_, hostSupernet, err := net.ParseCIDR(cfg.HostNetworkSupernet)
	if err != nil {
		return err
	}

	vpcSvc := &vpc.Service{
		Store:               st,
		Driver:              driver,
		AutoModeSupernet:    autoSupernet,
		HostNetworkSupernet: hostSupernet,
	}
	objSvc := &objects.Service{Store: st, Blobs: blobs}
	idSvc := &identity.Service{Store: st}
	computeSvc := &compute.Service{Store: st, VPC: vpcSvc, Driver: driver}

	if err := idSvc.SeedPredefinedRoles(ctx); err != nil {
		return err
	}
	if _, err := st.EnsureProject(ctx, cfg.DefaultProject); err != nil {
		return err
	}

	recon := &reconciler.Reconciler{
		Store:        st,
		Driver:       driver,
		SyncInterval: cfg.SyncInterval,
		StaleAfter:   staleProvisioningGrace,
		Log:          log.Named("reconciler"),
	}
	lifecycleWorker := &lifecycle.Worker{
		Store:               st,
		Blobs:               blobs,
		Objects:             objSvc,
		SweepInterval:       cfg.LifecycleInterval,
		ResumableSessionTTL: cfg.ResumableSessionTTL,
		Log:                 log.Named("lifecycle"),
	}

	go recon.Run(ctx)
	go lifecycleWorker.Run(ctx)

	api := &httpapi.Server{Objects: objSvc, Identity: idSvc, Compute: computeSvc, Log: log.Named("httpapi")}
	srv := &http.Server{Addr: cfg.ListenAddress, Handler: api.Router()}
	go func() {
		log.Infow("http adapter listening", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("http adapter stopped", "error", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
