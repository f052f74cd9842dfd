package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/caseflowhq/caseflow/internal/presence"
)

// TargetKind enumerates the logical delivery targets.
type TargetKind string

const (
	TargetSingleUser         TargetKind = "single_user"
	TargetTenantAll          TargetKind = "tenant_all"
	TargetTenantRole         TargetKind = "tenant_role"
	TargetThreadParticipants TargetKind = "thread_participants"
)

// Target is a logical delivery destination, resolved to concrete connections
// by the Router.
type Target struct {
	Kind          TargetKind
	TenantID      string
	UserID        string
	Role          string
	ThreadID      string
	ExcludeUserID string
}

// SingleUser targets one user within a tenant.
func SingleUser(tenantID, userID string) Target {
	return Target{Kind: TargetSingleUser, TenantID: tenantID, UserID: userID}
}

// TenantAll targets every user of a tenant.
func TenantAll(tenantID string) Target {
	return Target{Kind: TargetTenantAll, TenantID: tenantID}
}

// TenantRole targets every user holding the given role within a tenant.
func TenantRole(tenantID, role string) Target {
	return Target{Kind: TargetTenantRole, TenantID: tenantID, Role: role}
}

// ThreadParticipants targets the members of a thread, optionally excluding
// one user (typically the sender).
func ThreadParticipants(threadID, excludeUserID string) Target {
	return Target{Kind: TargetThreadParticipants, ThreadID: threadID, ExcludeUserID: excludeUserID}
}

// Resolution is a resolved target: the recipient users in scope (online or
// not) and their currently open connections.
type Resolution struct {
	TenantID    string
	Recipients  []string
	Connections map[string][]string
}

// ConnIDs flattens the per-user connection lists.
func (r Resolution) ConnIDs() []string {
	var out []string
	for _, conns := range r.Connections {
		out = append(out, conns...)
	}
	return out
}

// ParticipantsResolver returns the tenant and member users of a thread. It is
// backed by the thread participant store.
type ParticipantsResolver func(ctx context.Context, threadID string) (tenantID string, userIDs []string, err error)

// DirectoryResolvers are the read-only lookups supplied by the external
// user-directory collaborator. Either enumerator may be nil, in which case
// the corresponding tenant-wide target falls back to currently online users.
type DirectoryResolvers struct {
	RoleOf      presence.RoleResolver
	UsersOf     func(ctx context.Context, tenantID string) ([]string, error)
	UsersInRole func(ctx context.Context, tenantID, role string) ([]string, error)
}

// Router resolves logical targets into connection sets. Every lookup goes
// through the tenant-keyed presence registry, so a resolution can never
// contain a connection from another tenant.
type Router struct {
	registry       *presence.Registry
	participantsOf ParticipantsResolver
	directory      DirectoryResolvers
}

// NewRouter constructs a Router.
func NewRouter(registry *presence.Registry, participantsOf ParticipantsResolver, directory DirectoryResolvers) (*Router, error) {
	if registry == nil {
		return nil, errors.New("router: presence registry is required")
	}
	return &Router{
		registry:       registry,
		participantsOf: participantsOf,
		directory:      directory,
	}, nil
}

// ResolveTarget expands a logical target into recipients and connections.
func (r *Router) ResolveTarget(ctx context.Context, target Target) (Resolution, error) {
	switch target.Kind {
	case TargetSingleUser:
		if target.TenantID == "" || target.UserID == "" {
			return Resolution{}, errors.New("router: single user target requires tenant and user")
		}
		return r.resolveUsers(target.TenantID, []string{target.UserID}, ""), nil

	case TargetTenantAll:
		if target.TenantID == "" {
			return Resolution{}, errors.New("router: tenant target requires tenant")
		}
		recipients, err := r.tenantRecipients(ctx, target.TenantID)
		if err != nil {
			return Resolution{}, err
		}
		return r.resolveUsers(target.TenantID, recipients, ""), nil

	case TargetTenantRole:
		if target.TenantID == "" || target.Role == "" {
			return Resolution{}, errors.New("router: role target requires tenant and role")
		}
		recipients, err := r.roleRecipients(ctx, target.TenantID, target.Role)
		if err != nil {
			return Resolution{}, err
		}
		return r.resolveUsers(target.TenantID, recipients, ""), nil

	case TargetThreadParticipants:
		if r.participantsOf == nil {
			return Resolution{}, errors.New("router: participants resolver not configured")
		}
		tenantID, members, err := r.participantsOf(ctx, target.ThreadID)
		if err != nil {
			return Resolution{}, fmt.Errorf("router: resolve thread %s: %w", target.ThreadID, err)
		}
		return r.resolveUsers(tenantID, members, target.ExcludeUserID), nil

	default:
		return Resolution{}, fmt.Errorf("router: unknown target kind %q", target.Kind)
	}
}

// RelayTyping forwards an ephemeral typing signal to the other participants
// of a thread. Best effort only; failures are ignored.
func (r *Router) RelayTyping(ctx context.Context, pusher Pusher, from Identity, threadID string) {
	if pusher == nil {
		return
	}
	res, err := r.ResolveTarget(ctx, ThreadParticipants(threadID, from.UserID))
	if err != nil {
		return
	}
	// Cross-tenant control frames are dropped outright.
	if res.TenantID != from.TenantID {
		return
	}

	frame := Frame{Event: EventTyping, Data: map[string]string{
		"thread_id": threadID,
		"user_id":   from.UserID,
	}}
	for _, connID := range res.ConnIDs() {
		_ = pusher.Push(connID, frame)
	}
}

func (r *Router) resolveUsers(tenantID string, users []string, exclude string) Resolution {
	res := Resolution{
		TenantID:    tenantID,
		Connections: make(map[string][]string, len(users)),
	}
	seen := make(map[string]struct{}, len(users))
	for _, userID := range users {
		if userID == "" || userID == exclude {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}

		res.Recipients = append(res.Recipients, userID)
		if conns := r.registry.ConnectionsFor(tenantID, userID); len(conns) > 0 {
			res.Connections[userID] = conns
		}
	}
	return res
}

func (r *Router) tenantRecipients(ctx context.Context, tenantID string) ([]string, error) {
	if r.directory.UsersOf != nil {
		users, err := r.directory.UsersOf(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("router: list tenant users: %w", err)
		}
		return users, nil
	}
	return r.registry.OnlineUsers(tenantID), nil
}

func (r *Router) roleRecipients(ctx context.Context, tenantID, role string) ([]string, error) {
	if r.directory.UsersInRole != nil {
		users, err := r.directory.UsersInRole(ctx, tenantID, role)
		if err != nil {
			return nil, fmt.Errorf("router: list role users: %w", err)
		}
		return users, nil
	}

	if r.directory.RoleOf == nil {
		return nil, errors.New("router: role resolver not configured")
	}
	var out []string
	for _, userID := range r.registry.OnlineUsers(tenantID) {
		if r.directory.RoleOf(tenantID, userID) == role {
			out = append(out, userID)
		}
	}
	return out, nil
}
