package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"0.0.0.0:9552", false},
		{"localhost:80", false},
		{":8080", false},
		{"127.0.0.1:0", false},
		{"nohost", true},
		{"example.com:80", true},
		{"127.0.0.1:99999", true},
		{"127.0.0.1:http", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	for name, o := range map[string]IOptions{
		"bank":   NewBankOptions(),
		"update": NewUpdateOptions(),
		"zmq":    NewZmqOptions(),
		"mqtt":   NewMqttOptions(),
		"http":   NewHttpOptions(),
		"s3":     NewS3Options(),
	} {
		assert.Empty(t, o.Validate(), name)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		opts func() IOptions
	}{
		{"bank unknown hal", func() IOptions { o := NewBankOptions(); o.HAL = "floppy"; return o }},
		{"bank same devices", func() IOptions { o := NewBankOptions(); o.DeviceB = o.DeviceA; return o }},
		{"bank relative config file", func() IOptions { o := NewBankOptions(); o.ConfigFiles = []string{"etc/hosts"}; return o }},
		{"dir hal bad running bank", func() IOptions {
			o := NewBankOptions()
			o.HAL, o.RunningBank = HALDir, "C"
			return o
		}},
		{"update stall above job", func() IOptions { o := NewUpdateOptions(); o.StallTimeout = 7 * time.Hour; return o }},
		{"zmq no control", func() IOptions { o := NewZmqOptions(); o.ControlEndpoint = ""; return o }},
		{"zmq no scheme", func() IOptions { o := NewZmqOptions(); o.ProbeEndpoint = "localhost:5556"; return o }},
		{"mqtt no device", func() IOptions { o := NewMqttOptions(); o.Broker = "tcp://broker:1883"; return o }},
		{"mqtt bad url", func() IOptions { o := NewMqttOptions(); o.Broker = "broker"; o.DeviceID = "d"; return o }},
		{"http bad network", func() IOptions { o := NewHttpOptions(); o.Network = "udp"; return o }},
		{"s3 scheme", func() IOptions { o := NewS3Options(); o.Endpoint = "https://minio"; return o }},
		{"s3 half keys", func() IOptions { o := NewS3Options(); o.AccessKeyID = "k"; return o }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEmpty(t, tt.opts().Validate())
		})
	}
}

func TestDisabledEndpoints(t *testing.T) {
	h := NewHttpOptions()
	h.Addr = ""
	assert.False(t, h.Enabled())
	assert.Empty(t, h.Validate())

	m := NewMqttOptions()
	assert.False(t, m.Enabled())
}

func TestFlagsBind(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	b := NewBankOptions()
	u := NewUpdateOptions()
	m := NewMqttOptions()
	b.AddFlags(fs)
	u.AddFlags(fs)
	m.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--bank.hal=dir",
		"--bank.config-files=/etc/hostname,/etc/machine-id",
		"--update.stall-timeout=30s",
		"--mqtt.device-id=dev-7",
	}))
	assert.Equal(t, HALDir, b.HAL)
	assert.Equal(t, []string{"/etc/hostname", "/etc/machine-id"}, b.ConfigFiles)
	assert.Equal(t, 30*time.Second, u.StallTimeout)
	assert.Equal(t, "bankupdated-dev-7", m.ToClientConfig().ClientID)
}
