package converter

// DefaultRegistry is the static class table covering tenant/infra roots,
// bridge domain, its VRF reference, subnet, fault, the ownership tag
// itself, and fvRsProv — a contract-relation class that hangs off an EPG
// but shares the EPG's ownership tag rather than carrying its own (a
// multi-parent class).
func DefaultRegistry() Registry {
	return Registry{
		"fvTenant":   {Prefix: "tn", HasNameOrCode: true},
		"infraInfra": {Prefix: "infra"},
		"fvBD":       {Prefix: "BD", HasNameOrCode: true},
		"fvRsCtx":    {Prefix: "rsctx"},
		"fvSubnet":   {Prefix: "subnet", HasNameOrCode: true},
		"fvCtx":      {Prefix: "ctx", HasNameOrCode: true},
		"fvRsProv":   {Prefix: "rsprov", HasNameOrCode: true, MultiParent: true},
		"faultInst":  {Prefix: "fault", HasNameOrCode: true, Operational: true},
		"tagInst":    {Prefix: "tag", HasNameOrCode: true},
	}
}
