package origin

import (
	"fmt"
	"net/http"
	"os"

	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/edgevid/proxy/internal/domain/errkind"
	"github.com/edgevid/proxy/internal/domain/model"
)

// ResolveCredentials reads the environment-variable-indirected credential
// fields of an AuthConfig and prepares the request-time artifact the
// fallback/fetch layer needs: a *credentials.Credentials for the AWS
// variants (reusing minio-go's signer rather than a second S3 SDK), or an
// http.Header to attach for bearer/header auth.
func ResolveCredentials(auth *model.AuthConfig) (*credentials.Credentials, http.Header, error) {
	if auth == nil {
		return nil, nil, nil
	}

	switch auth.Kind {
	case model.AuthAWSS3, model.AuthAWSS3PresignedURL:
		access := os.Getenv(auth.AccessKeyVar)
		secret := os.Getenv(auth.SecretKeyVar)
		var token string
		if auth.SessionTokenVar != "" {
			token = os.Getenv(auth.SessionTokenVar)
		}
		if (access == "" || secret == "") && auth.Security == model.SecurityStrict {
			return nil, nil, errkind.New(errkind.MissingCredentials, "missing AWS credentials",
				"accessKeyVar", auth.AccessKeyVar, "secretKeyVar", auth.SecretKeyVar)
		}
		if access == "" || secret == "" {
			return nil, nil, nil
		}
		return credentials.NewStaticV4(access, secret, token), nil, nil

	case model.AuthBearer:
		token := os.Getenv(auth.TokenVar)
		if token == "" && auth.Security == model.SecurityStrict {
			return nil, nil, errkind.New(errkind.MissingCredentials, "missing bearer token", "tokenVar", auth.TokenVar)
		}
		if token == "" {
			return nil, nil, nil
		}
		h := http.Header{}
		h.Set("Authorization", fmt.Sprintf("Bearer %s", token))
		return nil, h, nil

	case model.AuthHeader:
		h := http.Header{}
		for k, v := range auth.Headers {
			h.Set(k, os.ExpandEnv(v))
		}
		return nil, h, nil

	default:
		return nil, nil, nil
	}
}
