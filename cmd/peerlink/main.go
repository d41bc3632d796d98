package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rescp17/peerlink/internal/config"
	"github.com/rescp17/peerlink/internal/util"
	"github.com/rescp17/peerlink/pkg/directory"
	"github.com/rescp17/peerlink/pkg/node"
	"github.com/rescp17/peerlink/pkg/peer"
)

func main() {
	var (
		dataDir string
		logFile string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "peerlink",
		Short: "Peer-to-peer chat and file exchange over WebRTC data channels",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			log.SetOutput(f)
			if debug {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
			if dataDir == "" {
				dataDir, err = config.DataDir()
			}
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default $"+config.DataDirEnv+" or the user config dir)")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "peerlink.log", "File to write logs to")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Log at debug level")

	cmd.AddCommand(
		initCmd(&dataDir),
		runCmd(&dataDir),
		peersCmd(&dataDir),
		manualCmd(&dataDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := fang.Execute(ctx, cmd); err != nil {
		os.Exit(1)
	}
}

func initCmd(dataDir *string) *cobra.Command {
	var (
		userID    string
		signalURL string
		dirURL    string
		contacts  []string
		memory    bool
	)
	c := &cobra.Command{
		Use:   "init",
		Short: "Create or update the node configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*dataDir)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("user") {
				cfg.UserID = userID
			}
			if flags.Changed("signaling") {
				cfg.SignalingURL = signalURL
			}
			if flags.Changed("directory") {
				cfg.DirectoryURL = dirURL
			}
			if flags.Changed("memory-cache") {
				cfg.Cache = config.CacheSQLite
				if memory {
					cfg.Cache = config.CacheMemory
				}
			}
			for _, id := range contacts {
				cfg.AddContact(peer.Contact{ID: strings.TrimSpace(id)})
			}
			if err := cfg.Save(*dataDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s, config saved in %s\n", cfg.UserID, *dataDir)
			return nil
		},
	}
	c.Flags().StringVar(&userID, "user", "", "Local user id")
	c.Flags().StringVar(&signalURL, "signaling", "", "Signaling server WebSocket URL (empty for manual only)")
	c.Flags().StringVar(&dirURL, "directory", "", "HTTP roster URL (empty to browse mDNS)")
	c.Flags().StringSliceVar(&contacts, "contact", nil, "Contact to auto-connect to (repeatable)")
	c.Flags().BoolVar(&memory, "memory-cache", false, "Keep received content in memory only")
	return c
}

func runCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the node and read chat commands from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, *dataDir, nil)
		},
	}
}

func manualCmd(dataDir *string) *cobra.Command {
	c := &cobra.Command{
		Use:   "manual",
		Short: "Connect without a signaling server by exchanging connection codes",
	}
	c.AddCommand(&cobra.Command{
		Use:   "offer",
		Short: "Print an offer code, then finish with /accept <answer code>",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, *dataDir, func(ctx context.Context, s *session) error {
				return s.exec(ctx, command{name: "offer"})
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "answer <offer code>",
		Short: "Answer an offer code and print the answer code to send back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, *dataDir, func(ctx context.Context, s *session) error {
				return s.exec(ctx, command{name: "answer", rest: args[0]})
			})
		},
	})
	return c
}

func peersCmd(dataDir *string) *cobra.Command {
	var window time.Duration
	c := &cobra.Command{
		Use:   "peers",
		Short: "List contacts and whether the directory reports them online",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*dataDir)
			if err != nil {
				return err
			}

			var dir peer.Directory
			if cfg.DirectoryURL != "" {
				dir = directory.NewHTTP(cfg.DirectoryURL, cfg.UserID)
			} else {
				m := directory.NewMDNS()
				m.Window = window
				dir = m
			}
			online, err := dir.OnlineUsers(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch online users: %w", err)
			}
			printContacts(cmd.OutOrStdout(), cfg.Contacts, online)
			return nil
		},
	}
	c.Flags().DurationVar(&window, "window", directory.DefaultBrowseWindow, "How long to browse mDNS")
	return c
}

func openNode(dataDir string) (*node.App, error) {
	if err := util.EnsureDirectory(dataDir); err != nil {
		return nil, err
	}
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	// persist the generated user id on first run
	if err := cfg.Save(dataDir); err != nil {
		return nil, err
	}
	return node.NewApp(cfg, dataDir)
}
