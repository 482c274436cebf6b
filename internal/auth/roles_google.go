package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// roleSchema is the Workspace custom schema holding the application role.
// The schema must be created once in the Admin console with a single "role"
// text field.
const (
	roleSchema      = "DumbQuestions"
	roleSchemaField = "role"
)

// GoogleRoleClient reads and writes the application role on Workspace user
// records via the Admin SDK Directory API. Google keeps no free-form private
// metadata on ID tokens, so the role lives in a custom schema attribute that
// the token-issuance config maps into the private metadata claim.
type GoogleRoleClient struct {
	adminSrv *admin.Service
}

// NewGoogleRoleClient creates a role client backed by the Admin SDK.
//
// If saKeyFile is provided, it is read and used for domain-wide delegation via
// JWT credentials with Subject set to adminEmail. If saKeyFile is empty,
// Application Default Credentials are used instead, which supports Workload
// Identity in GKE, the GOOGLE_APPLICATION_CREDENTIALS env var, and
// gcloud auth application-default login. The underlying service account must
// have domain-wide delegation with the AdminDirectoryUserScope scope.
func NewGoogleRoleClient(ctx context.Context, saKeyFile, adminEmail string) (*GoogleRoleClient, error) {
	var opts []option.ClientOption

	if saKeyFile != "" {
		jsonKey, err := os.ReadFile(saKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read service account key: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, admin.AdminDirectoryUserScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account key: %w", err)
		}
		jwtConfig.Subject = adminEmail
		opts = append(opts, option.WithHTTPClient(jwtConfig.Client(ctx)))
	} else {
		creds, err := google.FindDefaultCredentialsWithParams(ctx, google.CredentialsParams{
			Scopes:  []string{admin.AdminDirectoryUserScope},
			Subject: adminEmail,
		})
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}

	srv, err := admin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create admin service: %w", err)
	}

	return &GoogleRoleClient{adminSrv: srv}, nil
}

// FetchRole returns the role stored in the user's custom schema. Users
// without the schema attribute resolve to RoleUser.
func (g *GoogleRoleClient) FetchRole(ctx context.Context, subject string) (Role, error) {
	u, err := g.adminSrv.Users.Get(subject).
		Projection("custom").
		CustomFieldMask(roleSchema).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("get user %s: %w", subject, err)
	}

	raw, ok := u.CustomSchemas[roleSchema]
	if !ok {
		return RoleUser, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("decode custom schema for %s: %w", subject, err)
	}
	return RoleFromMetadata(fields), nil
}

// SetRole writes the role into the user's custom schema attribute.
func (g *GoogleRoleClient) SetRole(ctx context.Context, subject string, role Role) error {
	raw, err := json.Marshal(map[string]string{roleSchemaField: string(role)})
	if err != nil {
		return err
	}

	_, err = g.adminSrv.Users.Patch(subject, &admin.User{
		CustomSchemas: map[string]googleapi.RawMessage{
			roleSchema: raw,
		},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("patch user %s: %w", subject, err)
	}
	return nil
}
