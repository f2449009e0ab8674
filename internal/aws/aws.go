package aws

import (
	"context"
	"encoding/json"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"moff.io/snap-bridge/pkg/errors"
	"moff.io/snap-bridge/pkg/log"
)

var (
	Client *Clients
)

// maxKeystoreSize bounds keystore exports read from s3.
const maxKeystoreSize = 8 << 20

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func Init(region, bucketName, passwordParam string) {
	if bucketName == "" || region == "" {
		log.Fatalf("s3 bucket or region not present")
	}
	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(region))
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	Client = &Clients{
		bucketName:    bucketName,
		region:        region,
		passwordParam: passwordParam,
		s3Client:      s3.NewFromConfig(cfg),
		ssmClient:     ssm.NewFromConfig(cfg),
	}
}

// Clients reads keystore exports from s3 and their password from ssm.
type Clients struct {
	bucketName    string
	region        string
	passwordParam string
	s3Client      s3API
	ssmClient     ssmAPI
}

func (s *Clients) GetParameterFromSSM(ctx context.Context, paramName string) (*ssmtypes.Parameter, error) {
	input := &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: true,
	}
	parameter, err := s.ssmClient.GetParameter(ctx, input)
	if err != nil {
		return nil, errors.WrapAndReport(err, "query parameter from ssm")
	}
	return parameter.Parameter, nil
}

// Keystore downloads the keystore export stored under key.
func (s *Clients) Keystore(ctx context.Context, key string) (json.RawMessage, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get s3 object %v", key)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(out.Body, maxKeystoreSize))
	if err != nil {
		return nil, errors.Wrapf(err, "read s3 object %v", key)
	}
	if !json.Valid(raw) {
		return nil, errors.Errorf("s3 object %v is not json", key)
	}
	return raw, nil
}

// Password returns the keystore password kept in the configured ssm parameter.
func (s *Clients) Password(ctx context.Context) (string, error) {
	if s.passwordParam == "" {
		return "", errors.New("keystore password parameter not configured")
	}
	p, err := s.GetParameterFromSSM(ctx, s.passwordParam)
	if err != nil {
		return "", err
	}
	return aws.ToString(p.Value), nil
}
