// Package main is the entry point of accountd, the launcher's account daemon.
// It serves the host command API by default and also offers one-shot account
// commands for scripting and headless use.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/launcher-accounts/accountd/internal/buildinfo"
	"github.com/launcher-accounts/accountd/internal/cmd"
	"github.com/launcher-accounts/accountd/internal/config"
	"github.com/launcher-accounts/accountd/internal/logging"
	"github.com/launcher-accounts/accountd/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = ""
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var (
		login       bool
		noBrowser   bool
		offline     string
		list        bool
		remove      string
		setDefault  string
		accountType bool
		configPath  string
	)

	flag.BoolVar(&login, "login", false, "Sign in with a Microsoft account")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open the browser; paste the redirect URL in the terminal")
	flag.StringVar(&offline, "offline", "", "Create an offline account with the given username")
	flag.BoolVar(&list, "list", false, "List stored accounts")
	flag.StringVar(&remove, "remove", "", "Remove the account with the given id")
	flag.StringVar(&setDefault, "set-default", "", "Make the account with the given id the default")
	flag.BoolVar(&accountType, "account-type", false, "Print the type of the current session")
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")

	flag.CommandLine.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(out, "Usage of %s\n", os.Args[0])
		flag.CommandLine.VisitAll(func(f *flag.Flag) {
			s := fmt.Sprintf("  -%s", f.Name)
			name, unquoteUsage := flag.UnquoteUsage(f)
			if name != "" {
				s += " " + name
			}
			if len(s) <= 4 {
				s += "	"
			} else {
				s += "\n    "
			}
			if unquoteUsage != "" {
				s += unquoteUsage
			}
			if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
				s += fmt.Sprintf(" (default %s)", f.DefValue)
			}
			_, _ = fmt.Fprint(out, s+"\n")
		})
	}
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	configFilePath := configPath
	if configFilePath == "" {
		configFilePath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfigOptional(configFilePath, configPath == "")
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	log.Info(buildinfo.Summary())
	util.SetLogLevel(cfg)

	if resolvedAuthDir, errResolveAuthDir := util.ResolveAuthDir(cfg.AuthDir); errResolveAuthDir != nil {
		log.Errorf("failed to resolve auth directory: %v", errResolveAuthDir)
		return
	} else {
		cfg.AuthDir = resolvedAuthDir
	}

	switch {
	case login:
		cmd.DoLogin(cfg, &cmd.LoginOptions{NoBrowser: noBrowser})
	case offline != "":
		cmd.DoOfflineLogin(cfg, offline)
	case list:
		cmd.DoListUsers(cfg)
	case remove != "":
		cmd.DoRemoveUser(cfg, remove)
	case setDefault != "":
		cmd.DoSetDefaultUser(cfg, setDefault)
	case accountType:
		cmd.DoAccountType(cfg)
	default:
		fmt.Println(buildinfo.Summary())
		cmd.StartService(cfg, configFilePath)
	}
}
