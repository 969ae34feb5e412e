package billing

import "strings"

// Permission is a capability bit set.
type Permission uint32

const (
	PermCreateInvoice Permission = 1 << iota
	PermEditInvoice
	PermDeleteInvoice
	PermRecordPayment
	PermOverridePrice
	PermBypassEditWindow
	PermManageCatalog
)

var permissionNames = []struct {
	p    Permission
	name string
}{
	{PermCreateInvoice, "create_invoice"},
	{PermEditInvoice, "edit_invoice"},
	{PermDeleteInvoice, "delete_invoice"},
	{PermRecordPayment, "record_payment"},
	{PermOverridePrice, "override_price"},
	{PermBypassEditWindow, "bypass_edit_window"},
	{PermManageCatalog, "manage_catalog"},
}

// Predefined roles.
const (
	// RoleSalesman may bill and take payments. Editing is limited to the
	// salesman's own invoices (see InvoiceService.Edit).
	RoleSalesman = PermCreateInvoice | PermRecordPayment
	RoleAdmin    = PermCreateInvoice | PermEditInvoice | PermDeleteInvoice |
		PermRecordPayment | PermOverridePrice | PermBypassEditWindow | PermManageCatalog
)

func (p Permission) Has(q Permission) bool { return p&q == q }

func (p Permission) String() string {
	var names []string
	for _, pn := range permissionNames {
		if p.Has(pn.p) {
			names = append(names, pn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// RoleByName resolves "admin" or "salesman"; anything else has no permissions.
func RoleByName(name string) Permission {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "admin":
		return RoleAdmin
	case "salesman":
		return RoleSalesman
	}
	return 0
}

// Actor is whoever drives an operation.
type Actor struct {
	ID          string
	Permissions Permission
}

// Require fails with a *PermissionError if any bit of p is missing.
func (a Actor) Require(p Permission) error {
	if a.Permissions.Has(p) {
		return nil
	}
	return &PermissionError{ActorID: a.ID, Missing: p &^ a.Permissions}
}
