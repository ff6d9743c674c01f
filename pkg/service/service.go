// Package service wires the alert daemon together and owns its lifecycle.
package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"urgent-alert-relay/pkg/alert"
	"urgent-alert-relay/pkg/config"
	"urgent-alert-relay/pkg/device"
	"urgent-alert-relay/pkg/handlers"
	"urgent-alert-relay/pkg/lease"
	"urgent-alert-relay/pkg/metrics"
	"urgent-alert-relay/pkg/server"
	"urgent-alert-relay/pkg/store"
	"urgent-alert-relay/pkg/transport"
)

const webhookTimeout = 5 * time.Second

type Service struct {
	config  *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics

	store    store.Store
	host     *device.HostState
	bridge   *alert.Bridge
	manager  *alert.Manager
	lease    *lease.Lease
	consumer *transport.StreamConsumer
	server   *http.Server
	listener net.Listener
}

func NewService(rdb *redis.Client, config *config.Config, logger *logrus.Logger, gatherer prometheus.Gatherer, metrics *metrics.Metrics) (*Service, error) {
	primary, err := store.NewStore(config.StoreBackend, config.StoreDir, rdb, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create payload store: %w", err)
	}
	st := store.NewDegrading(primary, logger, metrics)

	ui := transport.NewUIStream(rdb, config.UIStream)
	host := device.NewHostState(false)
	bridge := alert.NewBridge(st, config.ResumeRetryDelay(), config.ResumeMaxAttempts, logger, metrics)

	manager := alert.NewManager(alert.Deps{
		Store:    st,
		Bridge:   bridge,
		Probe:    host,
		Wake:     device.NewLocalWake(logger, metrics),
		Feedback: device.NewLocalFeedback(logger),
		Notifier: ui,
		Renderer: ui,
	}, alert.OptionsFromConfig(config), logger, metrics)

	deviceLease := lease.New(rdb, config.DeviceID, config.LeaseTTLDuration(), logger, metrics)
	consumer := transport.NewStreamConsumer(rdb, config, deviceLease, transport.NewRouter(manager, logger), logger, metrics)

	handler := handlers.NewHandler(
		manager,
		bridge,
		host,
		transport.NewPublisher(rdb, config.EventsStream, logger),
		logger,
		deviceLease.Held,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	)

	return &Service{
		config:   config,
		logger:   logger,
		metrics:  metrics,
		store:    st,
		host:     host,
		bridge:   bridge,
		manager:  manager,
		lease:    deviceLease,
		consumer: consumer,
		server:   server.NewHTTPServer(config, handler, gatherer, logger),
	}, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting urgent alert service")

	// Resume whatever was in flight when the last process died
	recovered, err := s.manager.Recover(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Alert recovery incomplete")
	}

	if s.config.HostCallbackURL != "" {
		s.bridge.Attach(transport.NewWebhookReceiver(s.config.HostCallbackURL, webhookTimeout))
	}

	if err := s.lease.Start(ctx); err != nil {
		return fmt.Errorf("failed to start device lease: %w", err)
	}

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream consumer: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"device_id": s.config.DeviceID,
		"recovered": recovered,
		"store":     s.config.StoreBackend,
	}).Info("Urgent alert service started successfully")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping urgent alert service")

	// No new events, then hand the stream to another instance
	s.consumer.Stop()
	s.lease.Stop()

	var shutdownErr error
	if s.listener != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
			shutdownErr = err
		}
	}

	s.manager.Close()
	s.bridge.Close()

	if err := s.store.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close payload store")
	}

	s.logger.Info("Urgent alert service stopped")
	return shutdownErr
}

func (s *Service) Manager() *alert.Manager {
	return s.manager
}

func (s *Service) Bridge() *alert.Bridge {
	return s.bridge
}

func (s *Service) Host() *device.HostState {
	return s.host
}

// Addr is the HTTP listen address once started.
func (s *Service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Service) startHTTPServer() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		s.logger.WithField("addr", listener.Addr().String()).Info("Starting HTTP server")
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()

	return nil
}
