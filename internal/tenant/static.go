package tenant

import (
	"context"
)

// StaticResolver resolves tenants from a fixed, in-memory list, the shape
// tenant-config loading takes in this design once provisioning itself is
// an external service's concern: the gateway's CLI loads a small config file of
// tenants at startup rather than reaching out to an external tenant
// service, and Cache sits in front of this to absorb repeat lookups.
type StaticResolver struct {
	byID        map[string]*Tenant
	byRef       map[string]*Tenant
	byHost      map[string]*Tenant
	byAccessKey map[string]*Tenant
}

// NewStaticResolver indexes tenants by ID, Ref, Host, and S3AccessKeyID.
func NewStaticResolver(tenants []*Tenant) *StaticResolver {
	r := &StaticResolver{
		byID:        make(map[string]*Tenant, len(tenants)),
		byRef:       make(map[string]*Tenant, len(tenants)),
		byHost:      make(map[string]*Tenant, len(tenants)),
		byAccessKey: make(map[string]*Tenant, len(tenants)),
	}
	for _, t := range tenants {
		r.byID[t.ID] = t
		if t.Ref != "" {
			r.byRef[t.Ref] = t
		}
		if t.Host != "" {
			r.byHost[t.Host] = t
		}
		if t.S3AccessKeyID != "" {
			r.byAccessKey[t.S3AccessKeyID] = t
		}
	}
	return r
}

func (r *StaticResolver) ByID(_ context.Context, id string) (*Tenant, bool, error) {
	t, ok := r.byID[id]
	return t, ok, nil
}

func (r *StaticResolver) ByRef(_ context.Context, ref string) (*Tenant, bool, error) {
	t, ok := r.byRef[ref]
	return t, ok, nil
}

func (r *StaticResolver) ByHost(_ context.Context, host string) (*Tenant, bool, error) {
	t, ok := r.byHost[host]
	return t, ok, nil
}

func (r *StaticResolver) ByAccessKeyID(_ context.Context, accessKeyID string) (*Tenant, bool, error) {
	t, ok := r.byAccessKey[accessKeyID]
	return t, ok, nil
}
