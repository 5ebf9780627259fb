// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/oragono/ironhold/irc/caps"
	"github.com/oragono/ironhold/irc/cloaks"
	"github.com/oragono/ironhold/irc/connection_limits"
	"github.com/oragono/ironhold/irc/isupport"
	"github.com/oragono/ironhold/irc/logger"
	"github.com/oragono/ironhold/irc/mysql"
	"github.com/oragono/ironhold/irc/utils"
)

// here's how this works: exported (capitalized) members of the config
// structs are defined in the YAML file and deserialized directly from
// there. They may be postprocessed and overwritten by LoadConfig.
// Unexported (lowercase) members are derived from the exported members in
// LoadConfig. (The teacher's own convention, kept verbatim.)

const cipherMarker = "$AEAD:"

type TLSListenConfig struct {
	Cert string
	Key  string
}

type ListenerConfigBlock struct {
	TLS     TLSListenConfig
	Tor     bool
	STSOnly bool `yaml:"sts-only"`
	WebSocket bool `yaml:"websocket"`
	WebSocketPath string `yaml:"websocket-path"`
	RequireProxy bool `yaml:"require-proxy"`
}

type STSConfig struct {
	Enabled     bool
	Duration    time.Duration
	bannerLines []string
}

type IPLimitsYAML = connection_limits.IPLimitsConfig

type TorListenersConfig struct {
	MaxConnections            int
	ThrottleDuration          time.Duration `yaml:"throttle-duration"`
	MaxConnectionsPerDuration int           `yaml:"max-connections-per-duration"`
}

type ServerConfig struct {
	Name           string
	Sid            string
	Description    string
	NetworkName    string `yaml:"network-name"`
	AdminName      string `yaml:"admin-name"`
	AdminEmail     string `yaml:"admin-email"`
	Casemapping    string
	EnforceUtf8    bool `yaml:"enforce-utf8"`
	MaxSendQBytes  string `yaml:"max-sendq"`
	MaxLinkSendQBytes string `yaml:"max-link-sendq"`
	ProxyAllowedFrom []string `yaml:"proxy-allowed-from"`
	UnixBindMode   os.FileMode `yaml:"unix-bind-mode"`
	Listeners      map[string]ListenerConfigBlock
	IPLimits       IPLimitsYAML `yaml:"ip-limits"`
	TorListeners   TorListenersConfig `yaml:"tor-listeners"`
	STS            STSConfig
	Cloaks         cloaks.Config

	nameCasefolded string
	trueListeners  map[string]utils.ListenerConfig
	isupport       *isupport.List
	capValues      map[caps.Capability]string
	motdLines      []string
	maxSendQBytes  uint64
	maxLinkSendQBytes uint64
}

type NetworkConfig struct {
	ServerListeners    []string `yaml:"server-listeners"`
	LinkedServers      []ServerLinkYAML `yaml:"linked-servers"`
}

type ServerLinkYAML struct {
	Name            string
	Address         string
	SendPassword    string `yaml:"send-password"`
	ReceivePassword string `yaml:"receive-password"`
	TLS             bool
	AutoConnect     bool          `yaml:"auto-connect"`
	ReconnectInitial time.Duration `yaml:"reconnect-initial"`
	ReconnectMax    time.Duration `yaml:"reconnect-max"`
	ReconnectMult   float64       `yaml:"reconnect-multiplier"`
}

type RateLimitingConfig struct {
	CommandsPerSecond float64 `yaml:"commands-per-second"`
	CommandsBurst     int     `yaml:"commands-burst"`
	MessagesPerSecond float64 `yaml:"messages-per-second"`
	MessagesBurst     int     `yaml:"messages-burst"`
	ExemptedCIDRs     []string `yaml:"exempted-cidrs"`
}

type SecurityConfig struct {
	CertificateFile string `yaml:"certificate-file"`
	CertificateKey  string `yaml:"certificate-key"`
	RequireTls      bool   `yaml:"require-tls"`
	EnableSts       bool   `yaml:"enable-sts"`
	StsDuration     time.Duration `yaml:"sts-duration"`
	CloakSecret     string `yaml:"-"`
	CloakSuffix     string `yaml:"cloak-suffix"`
	RateLimiting    RateLimitingConfig `yaml:"rate-limiting"`
}

type DatastoreConfig struct {
	Path                  string
	RunMigrationsOnStartup bool `yaml:"run-migrations-on-startup"`
	MessageRetentionDays  int  `yaml:"message-retention-days"`
	MySQL                 mysql.Config
}

type LimitsConfig struct {
	MaxNickLength        int `yaml:"max-nick-length"`
	MaxChannelLength     int `yaml:"max-channel-length"`
	MaxTopicLength       int `yaml:"max-topic-length"`
	MaxChannels          int `yaml:"max-channels"`
	MaxTargets           int `yaml:"max-targets"`
	PingTimeout          time.Duration `yaml:"ping-timeout"`
	RegistrationTimeout  time.Duration `yaml:"registration-timeout"`
	WhowasEntries        int `yaml:"whowas-entries"`
}

type WebircBlock struct {
	Name          string
	SharedPassword string `yaml:"shared-password"`
	AllowedCIDRs  []string `yaml:"allowed-cidrs"`
	TrustIdent    bool     `yaml:"trust-ident"`
}

type WebircConfig struct {
	Blocks []WebircBlock
}

type AccountRegistrationConfig struct {
	Enabled          bool
	EnabledCallbacks []string `yaml:"enabled-callbacks"`
	Throttling       RegistrationThrottlingConfig `yaml:"throttling"`
}

type RegistrationThrottlingConfig struct {
	Enabled  bool
	Duration time.Duration
}

type NickReservationConfig struct {
	Enabled bool
}

type VHostConfig struct {
	Enabled bool
}

type LoginThrottlingConfig struct {
	Enabled     bool
	Duration    time.Duration
	MaxAttempts int `yaml:"max-attempts"`
}

type MulticlientConfig struct {
	AlwaysOn bool `yaml:"always-on"`
}

type AccountsConfig struct {
	Registration    AccountRegistrationConfig
	NickReservation NickReservationConfig `yaml:"nick-reservation"`
	VHosts          VHostConfig
	Multiclient     MulticlientConfig
	LoginThrottling LoginThrottlingConfig `yaml:"login-throttling"`

	defaultUserModes []rune
}

type ChannelRegistrationConfig struct {
	Enabled bool
}

type ChannelsConfig struct {
	Registration ChannelRegistrationConfig
}

type PersistentHistoryConfig struct {
	Enabled               bool
	UnregisteredChannels  bool `yaml:"unregistered-channels"`
	RegisteredChannels    PersistentSetting `yaml:"registered-channels"`
	DirectMessages        PersistentSetting `yaml:"direct-messages"`
}

type PersistentSetting string

const (
	PersistentDisabled PersistentSetting = "disabled"
	PersistentOptIn    PersistentSetting = "opt-in"
	PersistentOptOut   PersistentSetting = "opt-out"
	PersistentMandatory PersistentSetting = "mandatory"
)

type HistoryRestrictionsConfig struct {
	ExpireTime              time.Duration `yaml:"expire-time"`
	EnforceRegistrationDate bool          `yaml:"enforce-registration-date"`
	GracePeriod             time.Duration `yaml:"grace-period"`
}

type HistoryConfig struct {
	Enabled      bool
	ChannelLength int `yaml:"channel-length"`
	ClientLength  int `yaml:"client-length"`
	Persistent    PersistentHistoryConfig
	Restrictions  HistoryRestrictionsConfig
}

type DebugConfig struct {
	PprofListener   *string `yaml:"pprof-listener"`
	MetricsListener *string `yaml:"metrics-listener"`
}

// Config is the root of the configuration surface (spec.md §6).
type Config struct {
	Server   ServerConfig
	Network  NetworkConfig
	Security SecurityConfig
	Database DatastoreConfig // alias kept distinct from Datastore for the external-facing name in spec.md §6
	Datastore DatastoreConfig `yaml:"-"`
	Limits   LimitsConfig
	Webirc   WebircConfig
	Motd     []string
	Accounts AccountsConfig
	Channels ChannelsConfig
	History  HistoryConfig
	Logging  []logger.Config
	Debug    DebugConfig

	Filename string `yaml:"-"`

	languageManager LanguageManager
}

// LanguageManager is a thin stand-in for the teacher's translation catalog
// manager; ironhold doesn't implement translation itself (out of scope per
// spec.md's Non-goals around client UI), but keeps the same extension point
// so client.t(...) calls read the same as upstream.
type LanguageManager struct{}

func (LanguageManager) Translate(_ string, s string) string { return s }

// LoadConfig reads and validates a YAML config file, decrypting any
// "$AEAD:"-marked ciphertext values with the master key from
// IRONHOLD_MASTER_KEY (spec.md §6).
func LoadConfig(filename string) (*Config, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	data, err = decryptMarkedValues(data)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	config.Datastore = config.Database
	config.Filename = filename

	if err := config.postLoad(); err != nil {
		return nil, err
	}
	return &config, nil
}

func decryptMarkedValues(data []byte) ([]byte, error) {
	text := string(data)
	if !strings.Contains(text, cipherMarker) {
		return data, nil
	}
	keyHex := os.Getenv("IRONHOLD_MASTER_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("config contains encrypted values but IRONHOLD_MASTER_KEY is not set")
	}
	key := []byte(keyHex)
	if len(key) != 32 {
		// derive a 32-byte key deterministically if the env var isn't
		// already a raw AES-256 key, so ops can use a passphrase
		key = deriveKey(key)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		idx := strings.Index(line, cipherMarker)
		if idx < 0 {
			continue
		}
		prefix := line[:idx]
		rest := strings.TrimSpace(line[idx+len(cipherMarker):])
		plain, err := openSealed(gcm, rest)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt config value on line %d: %w", i+1, err)
		}
		lines[i] = prefix + plain
	}
	return []byte(strings.Join(lines, "\n")), nil
}

func deriveKey(passphrase []byte) []byte {
	// not a KDF in the cryptographic sense, just a fixed-length fold; real
	// deployments are expected to pass a raw 32-byte key via the env var
	out := make([]byte, 32)
	for i, b := range passphrase {
		out[i%32] ^= b
	}
	return out
}

func openSealed(gcm cipher.AEAD, b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (c *Config) postLoad() error {
	c.Server.nameCasefolded = strings.ToLower(c.Server.Name)
	if c.Server.Casemapping == "" {
		c.Server.Casemapping = "rfc1459"
	}

	if c.Server.MaxSendQBytes != "" {
		if n, err := bytefmt.ToBytes(c.Server.MaxSendQBytes); err == nil {
			c.Server.maxSendQBytes = n
		}
	}
	if c.Server.maxSendQBytes == 0 {
		c.Server.maxSendQBytes = 64 * 1024
	}
	if c.Server.MaxLinkSendQBytes != "" {
		if n, err := bytefmt.ToBytes(c.Server.MaxLinkSendQBytes); err == nil {
			c.Server.maxLinkSendQBytes = n
		}
	}
	if c.Server.maxLinkSendQBytes == 0 {
		c.Server.maxLinkSendQBytes = 4 * 1024 * 1024
	}

	c.Server.trueListeners = make(map[string]utils.ListenerConfig)
	for addr, block := range c.Server.Listeners {
		lc := utils.ListenerConfig{
			Tor:           block.Tor,
			STSOnly:       block.STSOnly,
			WebSocket:     block.WebSocket,
			WebSocketPath: block.WebSocketPath,
			RequireProxy:  block.RequireProxy,
		}
		if block.TLS.Cert != "" {
			cert, err := tls.LoadX509KeyPair(block.TLS.Cert, block.TLS.Key)
			if err != nil {
				return fmt.Errorf("could not load TLS cert for %s: %w", addr, err)
			}
			lc.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		}
		c.Server.trueListeners[addr] = lc
	}

	c.Server.isupport = isupport.NewList()
	c.Server.isupport.Add("NETWORK", c.Server.NetworkName)
	c.Server.isupport.Add("CASEMAPPING", c.Server.Casemapping)
	c.Server.isupport.Add("CHANTYPES", chanTypes)
	c.Server.isupport.Add("PREFIX", "(qohv)~@%+")
	c.Server.isupport.Add("CHANMODES", "beI,k,l,imnpstR")
	c.Server.isupport.Add("NICKLEN", strconv.Itoa(c.Limits.MaxNickLength))
	c.Server.isupport.Add("CHANNELLEN", strconv.Itoa(c.Limits.MaxChannelLength))
	c.Server.isupport.Add("TOPICLEN", strconv.Itoa(c.Limits.MaxTopicLength))
	c.Server.isupport.Add("MAXTARGETS", strconv.Itoa(c.Limits.MaxTargets))
	c.Server.isupport.AddNoValue("EXCEPTS")
	c.Server.isupport.AddNoValue("INVEX")
	c.Server.isupport.RegenerateCachedReply()

	c.Server.capValues = caps.DefaultValues()
	c.Server.motdLines = c.Motd

	c.Datastore = c.Database

	return nil
}

// Diff returns the capability sets added/removed relative to old (nil-safe:
// a nil old returns two empty sets, used on first load where the caller
// discards the result anyway).
func (c *Config) Diff(old *Config) (added, removed caps.Set) {
	newSet := caps.SupportedSet()
	if old == nil {
		return caps.NewSet(), caps.NewSet()
	}
	oldSet := caps.SupportedSet() // ironhold advertises a fixed set; REHASH never changes it today
	return newSet.Subtract(oldSet), oldSet.Subtract(newSet)
}

// parseExemptedCIDRs resolves the rate-limiting exemption list into
// net.IPNets at load time.
func parseExemptedCIDRs(cidrs []string) []*net.IPNet {
	var out []*net.IPNet
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(c); err == nil {
			out = append(out, n)
		}
	}
	return out
}
