// Command moshtun is the CLI driver for the transport.Session tunnel core:
// it dials the UDP socket, drives tick() off a time.Ticker, and bridges
// stdin/stdout as the opaque application byte stream, since the library
// itself has no internal event loop.
package main

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"moshtun/logging"
	"moshtun/transport"
)

var (
	keyFlag         string
	mtuFlag         uint16
	listenFlag      string
	remoteFlag      string
	metricsAddrFlag string
)

var rootCmd = &cobra.Command{
	Use:   "moshtun",
	Short: "Reliable-over-UDP byte tunnel core (client side)",
	Long: `moshtun runs the client half of a mosh-style state synchronization
tunnel over UDP: it forwards stdin to the remote, and writes delivered
bytes from the remote to stdout.

Examples:
  # Tunnel stdin/stdout to a remote over UDP
  moshtun --key 4NeCCgvZFe2RnPgrcU1PQw --remote 203.0.113.7:60001

  # Bind a specific local address and expose Prometheus metrics
  moshtun --key ... --remote ... --listen 0.0.0.0:0 --metrics-addr :9100`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&keyFlag, "key", "", "base64-encoded 16-byte session key (required)")
	rootCmd.Flags().Uint16Var(&mtuFlag, "mtu", transport.DefaultMTU, "path MTU in bytes")
	rootCmd.Flags().StringVar(&listenFlag, "listen", ":0", "local UDP address to bind")
	rootCmd.Flags().StringVar(&remoteFlag, "remote", "", "remote UDP address to tunnel to (required)")
	rootCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	_ = rootCmd.MarkFlagRequired("key")
	_ = rootCmd.MarkFlagRequired("remote")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logging.NewLogrusLogger()

	inner, err := transport.New(keyFlag, mtuFlag)
	if err != nil {
		return fmt.Errorf("moshtun: %w", err)
	}
	defer inner.Free()
	session := &guardedSession{session: inner}

	localAddr, err := net.ResolveUDPAddr("udp", listenFlag)
	if err != nil {
		return fmt.Errorf("moshtun: resolve listen addr: %w", err)
	}
	remoteAddr, err := net.ResolveUDPAddr("udp", remoteFlag)
	if err != nil {
		return fmt.Errorf("moshtun: resolve remote addr: %w", err)
	}
	conn, err := net.DialUDP("udp", localAddr, remoteAddr)
	if err != nil {
		return fmt.Errorf("moshtun: dial udp: %w", err)
	}
	defer conn.Close()

	if metricsAddrFlag != "" {
		serveMetrics(inner, metricsAddrFlag, log)
	}

	done := make(chan error, 2)
	go readStdinLoop(session, conn, log, done)
	go readConnLoop(session, conn, log, done)
	go tickLoop(session, conn, log)

	return <-done
}

// readStdinLoop forwards stdin into the tunnel as outbound application
// data: read, encrypt via send_data, write to the socket.
func readStdinLoop(session *guardedSession, conn *net.UDPConn, log interface{ Printf(string, ...any) }, done chan<- error) {
	buf := make([]byte, 65536)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			payloads, sendErr := session.SendData(buf[:n], nowMs())
			if sendErr != nil {
				log.Printf("moshtun: send_data failed: %v", sendErr)
				continue
			}
			for _, p := range payloads {
				if _, wErr := conn.Write(p); wErr != nil {
					log.Printf("moshtun: write to udp failed: %v", wErr)
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("moshtun: read from stdin failed: %v", err)
			}
			done <- err
			return
		}
	}
}

// readConnLoop decrypts and reassembles inbound UDP datagrams and writes
// delivered application bytes to stdout: read, decode, decrypt, write.
func readConnLoop(session *guardedSession, conn *net.UDPConn, log interface{ Printf(string, ...any) }, done chan<- error) {
	buf := make([]byte, 65536)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Printf("moshtun: read from udp failed: %v", err)
			done <- err
			return
		}
		if _, recvErr := session.RecvUDP(buf[:n], nowMs()); recvErr != nil {
			log.Printf("moshtun: recv_udp rejected packet: %v", recvErr)
			continue
		}
		if session.HasPendingRead() {
			if _, wErr := os.Stdout.Write(session.ReadPending()); wErr != nil {
				log.Printf("moshtun: write to stdout failed: %v", wErr)
			}
		}
	}
}

// tickLoop drives retransmission and heartbeat emission off a host timer,
// the external collaborator the session core itself has no notion of.
func tickLoop(session *guardedSession, conn *net.UDPConn, log interface{ Printf(string, ...any) }) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		payloads, err := session.Tick(nowMs())
		if err != nil {
			log.Printf("moshtun: tick failed: %v", err)
			continue
		}
		for _, p := range payloads {
			if _, wErr := conn.Write(p); wErr != nil {
				log.Printf("moshtun: write to udp failed: %v", wErr)
			}
		}
	}
}

func serveMetrics(session *transport.Session, addr string, log interface{ Printf(string, ...any) }) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(transport.NewCollector(session))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("moshtun: metrics server stopped: %v", err)
		}
	}()
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// guardedSession serializes access to a transport.Session across the three
// driver goroutines (stdin, UDP recv, ticker): the session itself is a
// single-threaded, caller-driven core with no internal locking of its own,
// so the driver that introduces concurrency is responsible for the mutual
// exclusion.
type guardedSession struct {
	mu      sync.Mutex
	session *transport.Session
}

func (g *guardedSession) SendData(data []byte, nowMs int64) ([][]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session.SendData(data, nowMs)
}

func (g *guardedSession) RecvUDP(packet []byte, nowMs int64) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session.RecvUDP(packet, nowMs)
}

func (g *guardedSession) Tick(nowMs int64) ([][]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session.Tick(nowMs)
}

func (g *guardedSession) HasPendingRead() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session.HasPendingRead()
}

func (g *guardedSession) ReadPending() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session.ReadPending()
}
