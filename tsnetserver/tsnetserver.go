// Package tsnetserver runs an embedded Tailscale node, so serialrund can be reached on a tailnet.
package tsnetserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"tailscale.com/tsnet"

	"github.com/italypaleale/serialqueue/config"
)

// TSNetServer wraps a tsnet.Server
type TSNetServer struct {
	server   *tsnet.Server
	hostname string
	ip4      string
	ip6      string
}

// New brings up a Tailscale node with the given configuration.
// It blocks until the node is connected to the tailnet or ctx is done.
func New(ctx context.Context, cfg config.TSNetConfig, log *slog.Logger) (*TSNetServer, error) {
	if log == nil {
		log = slog.Default()
	}
	tsLogger := log.With(slog.String("scope", "tsnet"))

	tsrv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		AuthKey:   cfg.AuthKey,
		Dir:       cfg.StateDir,
		Ephemeral: cfg.Ephemeral,
		UserLogf: func(format string, args ...any) {
			tsLogger.Info(fmt.Sprintf(format, args...))
		},
		Logf: func(format string, args ...any) {
			if tsLogger.Enabled(context.Background(), slog.LevelDebug) {
				tsLogger.Debug(fmt.Sprintf(format, args...))
			}
		},
		AdvertiseTags: cfg.Tags,
	}

	// Bring up the Tailscale node, this will also give us the IP
	state, err := tsrv.Up(ctx)
	if err != nil {
		_ = tsrv.Close()
		return nil, fmt.Errorf("failed to bring up Tailscale node: %w", err)
	}

	t := &TSNetServer{
		hostname: strings.TrimSuffix(state.Self.DNSName, "."),
		server:   tsrv,
	}

	for _, addr := range state.TailscaleIPs {
		switch {
		case !addr.IsValid():
			continue
		case addr.Is6():
			t.ip6 = addr.String()
		case addr.Is4():
			t.ip4 = addr.String()
		}
	}

	tsLogger.Info("Tailscale node is up",
		slog.String("hostname", t.hostname),
		slog.String("ip4", t.ip4),
		slog.String("ip6", t.ip6),
	)

	return t, nil
}

// Hostname returns the full DNS name of the node on the tailnet.
func (t *TSNetServer) Hostname() string {
	return t.hostname
}

// TailscaleIPs returns the IPv4 and IPv6 addresses of the node.
func (t *TSNetServer) TailscaleIPs() (ip4 string, ip6 string) {
	return t.ip4, t.ip6
}

// Listen returns a TLS listener on the tailnet, on the given port.
// Certificates are provisioned automatically by Tailscale.
func (t *TSNetServer) Listen(port int) (net.Listener, error) {
	ln, err := t.server.ListenTLS("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("failed to create tsnet listener: %w", err)
	}

	return ln, nil
}

// Close shuts down the node.
func (t *TSNetServer) Close() error {
	err := t.server.Close()
	if err != nil {
		return fmt.Errorf("failed to close tsnet server: %w", err)
	}
	return nil
}
