// Package shell — SSH-консоль только для чтения: состояние ядер и таблицы паттернов.
package shell

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/crypto/ssh"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
)

const hostKeyBits = 2048

// StatusSource — снимки состояния ядер
type StatusSource interface {
	Statuses() []governor.Status
	Status(cpu int) (governor.Status, bool)
}

// Server — SSH-сервер консоли
type Server struct {
	config  *ssh.ServerConfig
	src     StatusSource
	version string
	logger  logr.Logger

	wg sync.WaitGroup
}

// Options — ключи сервера
type Options struct {
	HostKeyPath        string // PEM; если файла нет — ключ генерируется и сохраняется
	AuthorizedKeysPath string // формат authorized_keys; пусто — вход без аутентификации
}

// NewServer создаёт сервер и настраивает ключи
func NewServer(src StatusSource, version string, opts Options, logger logr.Logger) (*Server, error) {
	s := &Server{
		config:  &ssh.ServerConfig{},
		src:     src,
		version: version,
		logger:  logger.WithName("ssh-server"),
	}
	if err := s.configureServerKeys(opts.HostKeyPath); err != nil {
		return nil, err
	}
	if opts.AuthorizedKeysPath == "" {
		s.config.NoClientAuth = true
		return s, nil
	}
	authorized, err := loadAuthorizedKeys(opts.AuthorizedKeysPath)
	if err != nil {
		return nil, err
	}
	s.config.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		if authorized[string(key.Marshal())] {
			return &ssh.Permissions{}, nil
		}
		return nil, fmt.Errorf("unknown public key for %s", conn.User())
	}
	return s, nil
}

// configureServerKeys загружает хостовый ключ или генерирует новый
func (s *Server) configureServerKeys(path string) error {
	signer, ok := s.loadSSHKey(path)
	if !ok {
		var err error
		signer, err = s.generateNewSSHKey(path)
		if err != nil {
			return err
		}
	}
	s.config.AddHostKey(signer)
	return nil
}

func (s *Server) loadSSHKey(path string) (ssh.Signer, bool) {
	if path == "" {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error(err, "SSH key read failed", "path", path)
		}
		return nil, false
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		s.logger.Error(err, "SSH key parse failed", "path", path)
		return nil, false
	}
	return signer, true
}

func (s *Server) generateNewSSHKey(path string) (ssh.Signer, error) {
	s.logger.Info("Generating new SSH host key")
	key, err := rsa.GenerateKey(rand.Reader, hostKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse generated host key: %w", err)
	}
	if path != "" {
		if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
			s.logger.Error(err, "SSH key write failed", "path", path)
		} else {
			s.logger.Info("SSH host key written", "path", path)
		}
	}
	return signer, nil
}

func loadAuthorizedKeys(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authorized keys: %w", err)
	}
	keys := make(map[string]bool)
	for len(bytes.TrimSpace(data)) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse authorized keys: %w", err)
		}
		keys[string(key.Marshal())] = true
		data = rest
	}
	return keys, nil
}

// Run слушает addr до отмены ctx
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve принимает соединения до отмены ctx и дожидается завершения сессий
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var conns sync.Map
	go func() {
		<-ctx.Done()
		_ = listener.Close()
		conns.Range(func(key, _ any) bool {
			_ = key.(net.Conn).Close()
			return true
		})
	}()
	s.logger.Info("ssh console listening", "addr", listener.Addr().String())

	defer s.wg.Wait()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		conns.Store(conn, struct{}{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conns.Delete(conn)
			s.processConnection(conn)
		}()
	}
}

func (s *Server) processConnection(conn net.Conn) {
	defer conn.Close()
	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		s.logger.V(5).Info("ssh handshake failed", "remote", conn.RemoteAddr().String(), "error", err.Error())
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSession(channel, requests)
		}()
	}
}

// handleSession обслуживает exec (одна команда) или shell (интерактивный цикл)
func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			out, _ := s.Execute(payload.Command)
			_, _ = io.WriteString(channel, out)
			sendExitStatus(channel, 0)
			return
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			s.runShell(channel)
			sendExitStatus(channel, 0)
			return
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func sendExitStatus(channel ssh.Channel, code uint32) {
	_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
}
