package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults applied to fields left out of the configuration file.
const (
	CurrentVersion      = 1
	DefaultUsername     = "admin"
	DefaultPath         = "/ws"
	DefaultPrefixLength = 38
	DefaultMaxBuffer    = 8192
	DefaultReadTimeout  = 60 * time.Second
	DefaultTopicPrefix  = "pulsemeter"
	DefaultClientID     = "pulsemeter"
)

// File is the whole configuration file.
type File struct {
	Version  int      `yaml:"version"`
	LogLevel string   `yaml:"log_level,omitempty"`
	Meters   []*Meter `yaml:"meters"`
	Backoff  *Backoff `yaml:"backoff,omitempty"`
	MQTT     *MQTT    `yaml:"mqtt,omitempty"`
}

// Meter describes one meter bridge.
type Meter struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`               // Host name or IP, optionally with port
	Username string `yaml:"username"`           // Defaults to "admin"
	Password string `yaml:"password,omitempty"` // Prompted when empty
	Path     string `yaml:"path,omitempty"`     // WebSocket path, defaults to "/ws"

	// PrefixLength is the number of transport bytes in front of each
	// message. The value observed on Tibber Pulse bridges is 38.
	PrefixLength *int          `yaml:"prefix_length,omitempty"`
	MaxBuffer    int           `yaml:"max_buffer,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
}

// Backoff tunes the reconnect policy shared by all meters.
type Backoff struct {
	Initial    time.Duration `yaml:"initial,omitempty"`
	Max        time.Duration `yaml:"max,omitempty"`
	Multiplier float64       `yaml:"multiplier,omitempty"`
	Jitter     float64       `yaml:"jitter,omitempty"`
}

// MQTT configures snapshot forwarding. Forwarding is off when Broker is
// empty.
type MQTT struct {
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	QoS         byte   `yaml:"qos,omitempty"`
	Retain      bool   `yaml:"retain,omitempty"`
}

// Enabled reports whether forwarding is configured.
func (m *MQTT) Enabled() bool {
	return m != nil && m.Broker != ""
}

// NewFile returns an empty configuration with defaults.
func NewFile() *File {
	return &File{
		Version: CurrentVersion,
		Meters:  []*Meter{},
	}
}

// ApplyDefaults fills in every optional field that was left empty.
func (f *File) ApplyDefaults() {
	if f.Version == 0 {
		f.Version = CurrentVersion
	}
	for _, m := range f.Meters {
		if m != nil {
			m.ApplyDefaults()
		}
	}
	if f.MQTT != nil {
		if f.MQTT.TopicPrefix == "" {
			f.MQTT.TopicPrefix = DefaultTopicPrefix
		}
		if f.MQTT.ClientID == "" {
			f.MQTT.ClientID = DefaultClientID
		}
	}
}

// ApplyDefaults fills in the optional meter fields.
func (m *Meter) ApplyDefaults() {
	if m.Username == "" {
		m.Username = DefaultUsername
	}
	if m.Path == "" {
		m.Path = DefaultPath
	}
	if m.PrefixLength == nil {
		n := DefaultPrefixLength
		m.PrefixLength = &n
	}
	if m.MaxBuffer == 0 {
		m.MaxBuffer = DefaultMaxBuffer
	}
	if m.ReadTimeout == 0 {
		m.ReadTimeout = DefaultReadTimeout
	}
}

// Prefix returns the configured prefix length or the default.
func (m *Meter) Prefix() int {
	if m.PrefixLength == nil {
		return DefaultPrefixLength
	}
	return *m.PrefixLength
}

// URL builds the connection target, e.g. ws://admin:secret@10.0.0.5/ws.
func (m *Meter) URL() string {
	return m.url().String()
}

// RedactedURL is URL with the password masked, for logs.
func (m *Meter) RedactedURL() string {
	return m.url().Redacted()
}

func (m *Meter) url() *url.URL {
	user := m.Username
	if user == "" {
		user = DefaultUsername
	}
	path := m.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u := &url.URL{Scheme: "ws", Host: m.Host, Path: path}
	if m.Password != "" {
		u.User = url.UserPassword(user, m.Password)
	} else {
		u.User = url.User(user)
	}
	return u
}

// FindMeter returns the meter called name, or nil.
func (f *File) FindMeter(name string) *Meter {
	for _, m := range f.Meters {
		if m != nil && m.Name == name {
			return m
		}
	}
	return nil
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration and returns a *ValidationError
// describing all problems, or nil.
func (f *File) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if f.Version != CurrentVersion {
		add("unsupported version %d (expected %d)", f.Version, CurrentVersion)
	}

	seen := make(map[string]bool)
	for i, m := range f.Meters {
		if m == nil {
			add("meters[%d]: empty entry", i)
			continue
		}
		label := fmt.Sprintf("meters[%d]", i)
		if m.Name == "" {
			add("%s: name is required", label)
		} else {
			label = fmt.Sprintf("meter %q", m.Name)
			if seen[m.Name] {
				add("%s: duplicate name", label)
			}
			seen[m.Name] = true
		}
		if m.Host == "" {
			add("%s: host is required", label)
		} else if strings.Contains(m.Host, "/") {
			add("%s: host must not contain a scheme or path", label)
		}
		if m.Prefix() < 0 {
			add("%s: prefix_length must not be negative", label)
		}
		if m.MaxBuffer < 0 {
			add("%s: max_buffer must not be negative", label)
		}
		if m.ReadTimeout < 0 {
			add("%s: read_timeout must not be negative", label)
		}
	}

	if b := f.Backoff; b != nil {
		if b.Initial < 0 || b.Max < 0 {
			add("backoff: intervals must not be negative")
		}
		if b.Initial > 0 && b.Max > 0 && b.Initial > b.Max {
			add("backoff: initial %s exceeds max %s", b.Initial, b.Max)
		}
		if b.Multiplier != 0 && b.Multiplier < 1 {
			add("backoff: multiplier must be at least 1")
		}
		if b.Jitter < 0 || b.Jitter >= 1 {
			add("backoff: jitter must be in [0, 1)")
		}
	}

	if q := f.MQTT; q.Enabled() {
		if q.QoS > 2 {
			add("mqtt: qos must be 0, 1 or 2")
		}
		if !strings.Contains(q.Broker, "://") {
			add("mqtt: broker must be a URL such as tcp://host:1883")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
