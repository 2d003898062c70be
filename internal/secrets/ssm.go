// Package secrets resolves credentials for config.LoadWithSecrets.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"donor-dialer/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/caarlos0/env/v11"
)

// ssmAPI is the slice of *ssm.Client the parameter source needs.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads SecureString parameters named <prefix>/<NAME>.
type SSMSource struct {
	api    ssmAPI
	prefix string
}

func NewSSMSource(api ssmAPI, prefix string) (*SSMSource, error) {
	if api == nil {
		return nil, errors.New("secrets: ssm api must not be nil")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("secrets: prefix is required")
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return &SSMSource{api: api, prefix: prefix}, nil
}

func (s *SSMSource) Get(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	full := path.Join(s.prefix, name)

	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(full),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", full, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q has no value", full)
	}
	return *out.Parameter.Value, nil
}

// FromEnv picks the secret source named by SECRETS_SOURCE. It returns nil
// for "env", meaning secrets are plain environment variables.
func FromEnv(ctx context.Context) (config.SecretSource, error) {
	var sc config.SecretsConfig
	if err := env.Parse(&sc); err != nil {
		return nil, fmt.Errorf("secrets: parse env: %w", err)
	}
	switch sc.Source {
	case "", "env":
		return nil, nil
	case "ssm":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("secrets: load aws config: %w", err)
		}
		src, err := NewSSMSource(ssm.NewFromConfig(awsCfg), sc.Prefix)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("secrets: unknown SECRETS_SOURCE %q", sc.Source)
	}
}
