package vault

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rotisserie/eris"
)

// SecretsClient is the subset of the Secrets Manager API the key loader uses.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// KeySource says where the master key lives. SecretARN wins over HexKey.
type KeySource struct {
	HexKey    string
	SecretARN string
	Region    string
}

// secret JSON fields that may hold the key, checked in order
var secretKeyFields = []string{"key", "value", "AI_KEY_ENCRYPTION_KEY"}

// Load resolves the master key and builds a Vault, failing fast on a missing
// or malformed key.
func Load(ctx context.Context, src KeySource) (*Vault, error) {
	if src.SecretARN == "" {
		return NewFromHex(src.HexKey)
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if src.Region != "" {
		opts = append(opts, awsconfig.WithRegion(src.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load AWS config")
	}

	hexKey, err := FetchMasterKey(ctx, secretsmanager.NewFromConfig(cfg), src.SecretARN)
	if err != nil {
		return nil, err
	}
	return NewFromHex(hexKey)
}

// FetchMasterKey reads the hex master key from Secrets Manager. The secret may
// be the bare key or a JSON object holding it.
func FetchMasterKey(ctx context.Context, client SecretsClient, secretARN string) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", eris.Wrapf(err, "failed to get secret %s", maskARN(secretARN))
	}
	if out.SecretString == nil {
		return "", eris.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	raw := strings.TrimSpace(*out.SecretString)
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", eris.Wrapf(err, "secret %s is not valid JSON", maskARN(secretARN))
	}
	for _, name := range secretKeyFields {
		if v := strings.TrimSpace(fields[name]); v != "" {
			return v, nil
		}
	}
	return "", eris.Errorf("secret %s has no key field", maskARN(secretARN))
}

// maskARN keeps the secret name readable in logs while hiding the account.
func maskARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 7 {
		return "***"
	}
	return "arn:aws:secretsmanager:" + parts[3] + ":***:secret:" + parts[len(parts)-1]
}
