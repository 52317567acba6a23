package permission

// DefaultRoleManager returns the frozen role table used by the platform.
func DefaultRoleManager() (*RoleManager, error) {
	reg := NewRegistry()
	for _, c := range []Capability{
		CapCatalogRead,
		CapCatalogWrite,
		CapQuotesRead,
		CapQuotesManage,
		CapAccountsManage,
		CapAuditRead,
	} {
		if _, err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	reg.Freeze()

	rm := NewRoleManager(reg)
	if err := rm.RegisterRoot(RoleSuperAdmin); err != nil {
		return nil, err
	}
	table := map[Role][]Capability{
		RoleAdmin:  {CapCatalogRead, CapCatalogWrite, CapQuotesRead, CapQuotesManage, CapAuditRead},
		RoleEditor: {CapCatalogRead, CapCatalogWrite, CapQuotesRead},
		RoleViewer: {CapCatalogRead, CapQuotesRead},
	}
	for role, caps := range table {
		if err := rm.RegisterRole(role, caps); err != nil {
			return nil, err
		}
	}
	rm.Freeze()
	return rm, nil
}
