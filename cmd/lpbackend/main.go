package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/config"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/httpfile"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/logger"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/metrics"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/plugin"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/server"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/storage/filesystem"
	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/version"
)

const logo = ` __    ____  ____   ___    ___ __ __  ____ __  __ ____
||    || \\ || )) // \\  //   || // ||    ||\ || || \\
||    ||_// ||=)  ||=|| ((    ||<<  ||==  ||\\|| ||  ))
||__| ||    ||_)) || ||  \\__ || \\ ||___ || \|| ||_//
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet(version.Name, flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	help := flags.Bool("help", false, "show the help")
	showVersion := flags.Bool("version", false, "show the version only")
	initOnly := flags.Bool("init", false, "initialize configurations only")
	color := flags.Bool("color", false, "enable colored logging")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *showVersion {
		fmt.Println(version.Full())
		return 0
	}
	if *help {
		flags.Usage()
		return 1
	}

	fmt.Print(logo)
	logger.Init()
	logger.Info(version.Full())

	cfg, err := config.Load()
	if err != nil {
		// Startup continues on the defaults.
		logger.Error("Failed to parse JSON config", "error", err)
	}
	if !*color && !cfg.Logging.ColorLogging {
		logger.Reconfigure(false)
		logger.Info("Disabled colored logging")
	}

	collector := metrics.NewCollector(version.Name)
	provider := filesystem.NewFileTLSProvider(cfg.SSL.Certificate, cfg.SSL.PrivateKey, cfg.SSL.TmpDH)
	provider.PasswordPrompt = promptPassword
	builder := &httpfile.Builder{DocRoot: cfg.HTTP.DocRoot, FallbackFile: cfg.HTTP.FallbackFile}
	srv := server.New(cfg, builder, provider, collector)

	manager := plugin.NewManager()
	if err := manager.Register(srv); err != nil {
		logger.Error("Failed to register server plugin", "error", err)
		return 1
	}
	if err := manager.InitializeAll(); err != nil {
		logger.Error("Failed to initialize plugins", "error", err)
		return 1
	}

	if *initOnly {
		logger.Info("Initialized configurations")
		return 0
	}

	if err := srv.Run(); err != nil {
		logger.Error("Server error", "error", err)
		return 1
	}
	if err := srv.Close(); err != nil {
		logger.Error("Failed to persist configuration", "error", err)
	}
	return 0
}

// promptPassword reads the SSL key password from the terminal without
// echoing it.
func promptPassword(purpose string) (string, error) {
	logger.Info("Password needed for SSL certificates", "purpose", purpose)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(password), nil
}
