package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the transport authenticates to a target.
type AuthMethod string

const (
	// AuthMethodPassword authenticates with a password.
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey authenticates with a private key file.
	AuthMethodKey AuthMethod = "key"

	// AuthMethodAgent authenticates through the local SSH agent.
	AuthMethodAgent AuthMethod = "agent"
)

// defaultKeyNames are the key files tried, in order, when key
// authentication is requested without an explicit path.
var defaultKeyNames = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// Config describes one SSH connection to a target, including the
// optional jump host used to reach machines on isolated lab networks.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port.
	Port int

	// User is the login username.
	User string

	// AuthMethod selects password, key, or agent authentication.
	AuthMethod AuthMethod

	// Password is used for password authentication.
	Password string

	// PrivateKeyPath points at the private key file for key
	// authentication. Empty falls back to the usual ~/.ssh keys.
	PrivateKeyPath string

	// PrivateKeyPassphrase unlocks an encrypted private key.
	PrivateKeyPassphrase string

	// KnownHostsPath is the known_hosts file consulted when strict host
	// key checking is on.
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	// When off, any host key is accepted.
	StrictHostKeyChecking bool

	// ConnectionTimeout bounds connection establishment.
	ConnectionTimeout time.Duration

	// CommandTimeout bounds a single command when the caller's context
	// carries no deadline of its own.
	CommandTimeout time.Duration

	// KeepAliveInterval spaces keep-alive requests on an idle
	// connection. Zero disables them.
	KeepAliveInterval time.Duration

	// MaxKeepAliveRetries is how many keep-alives may fail in a row
	// before the connection is declared dead.
	MaxKeepAliveRetries int

	// ProxyHost names a jump host to tunnel through. Empty connects
	// directly.
	ProxyHost string

	// ProxyPort is the jump host's SSH port.
	ProxyPort int

	// ProxyUser is the login username on the jump host.
	ProxyUser string

	// ProxyAuthMethod selects authentication for the jump host.
	ProxyAuthMethod AuthMethod

	// ProxyPassword is used for jump host password authentication.
	ProxyPassword string

	// ProxyPrivateKeyPath points at the jump host's private key.
	ProxyPrivateKeyPath string
}

// DefaultConfig returns a Config for host and user with key
// authentication, strict host key checking against the user's
// known_hosts, and the stock timeouts.
func DefaultConfig(host string, user string) *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(home, ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        5 * time.Minute,
		MaxKeepAliveRetries:   3,
		ProxyPort:             22,
	}
}

// Validate reports the first problem that would prevent a connection
// attempt. For key authentication with no explicit path it also
// resolves PrivateKeyPath from the default key locations.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}

	if c.ProxyHost != "" {
		if c.ProxyPort <= 0 || c.ProxyPort > 65535 {
			return fmt.Errorf("invalid proxy port: %d", c.ProxyPort)
		}
		if c.ProxyUser == "" {
			return fmt.Errorf("proxy user is required when proxy host is set")
		}
	}

	return nil
}

// validateAuth checks the credentials for the selected auth method.
func (c *Config) validateAuth() error {
	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}

	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			c.PrivateKeyPath = findDefaultKey()
		}
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("key authentication needs a private key and none was found under ~/.ssh")
		}
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}

	case AuthMethodAgent:
		if os.Getenv("SSH_AUTH_SOCK") == "" {
			return fmt.Errorf("agent authentication needs SSH_AUTH_SOCK in the environment")
		}

	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	return nil
}

// findDefaultKey returns the first default key file that exists, or
// empty when there is none.
func findDefaultKey() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range defaultKeyNames {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ClientConfig assembles the x/crypto client configuration for this
// connection.
func (c *Config) ClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}

	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// authMethods builds the ordered authentication attempts for the
// selected method.
func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Servers that disable plain password auth usually still offer
		// keyboard-interactive with a single password prompt, so both
		// are registered.
		return []ssh.AuthMethod{
			ssh.Password(c.Password),
			ssh.KeyboardInteractive(
				func(user, instruction string, questions []string, echos []bool) ([]string, error) {
					answers := make([]string, len(questions))
					for i := range answers {
						answers[i] = c.Password
					}
					return answers, nil
				},
			),
		}, nil

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}

		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	case AuthMethodAgent:
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, fmt.Errorf("connect to ssh agent: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, nil

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
}

// hostKeyCallback builds the host key verifier. Without strict checking
// or a known_hosts file every host key is accepted, which is only
// acceptable for lab machines.
func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.KnownHostsPath == "" || !c.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return callback, nil
}

// Address returns the target's host:port dial address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ProxyAddress returns the jump host's host:port dial address, or empty
// when no jump host is configured.
func (c *Config) ProxyAddress() string {
	if c.ProxyHost == "" {
		return ""
	}
	return net.JoinHostPort(c.ProxyHost, strconv.Itoa(c.ProxyPort))
}

// IsProxyEnabled reports whether connections go through a jump host.
func (c *Config) IsProxyEnabled() bool {
	return c.ProxyHost != ""
}
