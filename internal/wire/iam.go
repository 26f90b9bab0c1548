package wire

import (
	"google.golang.org/api/iam/v1"

	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

// ServiceAccount converts a store.ServiceAccount to its iam/v1 wire
// shape.
func ServiceAccount(sa *store.ServiceAccount) *iam.ServiceAccount {
	return &iam.ServiceAccount{
		Name:           "projects/" + sa.ProjectID + "/serviceAccounts/" + sa.Email,
		ProjectId:      sa.ProjectID,
		UniqueId:       sa.UniqueID,
		Email:          sa.Email,
		DisplayName:    sa.DisplayName,
		Description:    sa.Description,
		Oauth2ClientId: sa.OAuth2ClientID,
		Disabled:       sa.Disabled,
	}
}

// ServiceAccountKey converts a store.ServiceAccountKey to its iam/v1
// wire shape. PrivateKeyData is an opaque base64 blob, never a
// cryptographically valid key (explicit non-goal).
func ServiceAccountKey(k *store.ServiceAccountKey) *iam.ServiceAccountKey {
	return &iam.ServiceAccountKey{
		Name:            k.ServiceAccountEmail + "/keys/" + k.ID,
		PrivateKeyType:  "TYPE_GOOGLE_CREDENTIALS_FILE",
		KeyAlgorithm:    k.Algorithm,
		PrivateKeyData:  k.PrivateKeyData,
		ValidAfterTime:  k.ValidAfter.Format(rfc3339),
		ValidBeforeTime: k.ValidBefore.Format(rfc3339),
	}
}

// Policy converts a store.IAMPolicy to its iam/v1 wire shape.
func Policy(p *store.IAMPolicy) *iam.Policy {
	out := &iam.Policy{
		Version: int64(p.Version),
		Etag:    p.Etag,
	}
	for _, b := range p.Bindings {
		binding := &iam.Binding{Role: b.Role, Members: b.Members}
		if b.Condition != nil {
			binding.Condition = &iam.Expr{
				Title:       b.Condition.Title,
				Description: b.Condition.Description,
				Expression:  b.Condition.Expression,
			}
		}
		out.Bindings = append(out.Bindings, binding)
	}
	return out
}

// BindingsFromPolicy is Policy's inverse, used when a handler receives a
// wire iam.Policy from a client and must store it.
func BindingsFromPolicy(p *iam.Policy) []store.IAMBinding {
	out := make([]store.IAMBinding, 0, len(p.Bindings))
	for _, b := range p.Bindings {
		binding := store.IAMBinding{Role: b.Role, Members: b.Members}
		if b.Condition != nil {
			binding.Condition = &store.IAMCondition{
				Title:       b.Condition.Title,
				Description: b.Condition.Description,
				Expression:  b.Condition.Expression,
			}
		}
		out = append(out, binding)
	}
	return out
}

// Role converts a store.Role to its iam/v1 wire shape.
func Role(r *store.Role) *iam.Role {
	return &iam.Role{
		Name:                r.Name,
		Title:               r.Title,
		Description:         r.Description,
		IncludedPermissions: r.IncludedPermissions,
		Stage:               string(r.Stage),
		Deleted:             r.Deleted,
	}
}
