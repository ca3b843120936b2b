// Package api serves diff, merge and decode operations over HTTP.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/diff"
	"github.com/TFMV/tabdelta/pkg/identity"
	"github.com/TFMV/tabdelta/pkg/loader"
	"github.com/TFMV/tabdelta/pkg/schema"
	"github.com/TFMV/tabdelta/version"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Port    string
	Prefork bool

	// Loader resolves dataset refs named in requests.
	Loader core.SnapshotLoader
	// Defaults are the diff options requests start from.
	Defaults diff.Options
	Logger   *zap.Logger
}

// Server holds the Fiber app instance
type Server struct {
	app  *fiber.App
	opts ServerOptions
	log  *zap.Logger
}

// NewServer initializes a new Fiber instance with the API routes.
func NewServer(opts ServerOptions) *Server {
	if opts.Port == "" {
		opts.Port = "8080"
	}
	if opts.Loader == nil {
		opts.Loader = &loader.Loader{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		IdleTimeout:           10 * time.Second,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             256 << 20,
		Prefork:               opts.Prefork,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{app: app, opts: opts, log: log}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/version", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "tabdelta API",
			"version": version.Version,
			"build":   version.BuildDate,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	v1 := app.Group("/v1")
	v1.Post("/diff", s.handleDiff)
	v1.Post("/merge", s.handleMerge)
	v1.Post("/decode", s.handleDecode)

	return s
}

// GetApp returns the underlying Fiber app.
func (s *Server) GetApp() *fiber.App {
	return s.app
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("tabdelta API is running", zap.String("port", s.opts.Port))
		errc <- s.app.Listen(":" + s.opts.Port)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info("received shutdown signal, stopping server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("server shutdown successfully")
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders errors as {"error": message} with a status derived
// from the error.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	var dup *identity.DuplicateKeyError
	var mismatch *schema.SchemaMismatchError
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, changeset.ErrCorrupt):
		code = fiber.StatusBadRequest
	case errors.As(err, &dup), errors.As(err, &mismatch),
		errors.Is(err, identity.ErrUnknownKeyColumn),
		errors.Is(err, changeset.ErrIncompatible),
		errors.Is(err, changeset.ErrBaseMismatch):
		code = fiber.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = fiber.StatusRequestTimeout
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
