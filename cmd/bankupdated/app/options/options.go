package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/bankupdate/internal/bankd"
	"github.com/autopeer-io/bankupdate/pkg/app"
	"github.com/autopeer-io/bankupdate/pkg/log"
	"github.com/autopeer-io/bankupdate/pkg/options"
)

type ServerOptions struct {
	ZmqOptions    *options.ZmqOptions    `json:"zmq" mapstructure:"zmq"`
	MqttOptions   *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions   *options.HttpOptions   `json:"http" mapstructure:"http"`
	S3Options     *options.S3Options     `json:"s3" mapstructure:"s3"`
	BankOptions   *options.BankOptions   `json:"bank" mapstructure:"bank"`
	UpdateOptions *options.UpdateOptions `json:"update" mapstructure:"update"`
	Log           *log.Options           `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*ServerOptions)(nil)

func NewServerOptions() *ServerOptions {
	o := &ServerOptions{
		ZmqOptions:    options.NewZmqOptions(),
		MqttOptions:   options.NewMqttOptions(),
		HttpOptions:   options.NewHttpOptions(),
		S3Options:     options.NewS3Options(),
		BankOptions:   options.NewBankOptions(),
		UpdateOptions: options.NewUpdateOptions(),
		Log:           log.NewOptions(),
	}

	return o
}

func (o *ServerOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.ZmqOptions.AddFlags(fss.FlagSet("zmq"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.BankOptions.AddFlags(fss.FlagSet("bank"))
	o.UpdateOptions.AddFlags(fss.FlagSet("update"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ServerOptions) Complete() error {
	return nil
}

func (o *ServerOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.ZmqOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.BankOptions.Validate()...)
	errs = append(errs, o.UpdateOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

// LogOptions lets the app initialize logging before running.
func (o *ServerOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *ServerOptions) Config() (*bankd.Config, error) {
	return &bankd.Config{
		ZmqOptions:    o.ZmqOptions,
		MqttOptions:   o.MqttOptions,
		HttpOptions:   o.HttpOptions,
		S3Options:     o.S3Options,
		BankOptions:   o.BankOptions,
		UpdateOptions: o.UpdateOptions,
	}, nil
}
