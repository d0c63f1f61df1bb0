package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Vendor looks up an antivirus vendor by name. Unknown vendors get a
// placeholder record so alert mail always has something to show.
func (s *Store) Vendor(name string) (*VendorInfo, error) {
	var v VendorInfo
	err := s.db.QueryRow(`SELECT name, contact, comments FROM av_vendors WHERE name = ?`, name).
		Scan(&v.Name, &v.Contact, &v.Comments)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &VendorInfo{
			Name:     name,
			Contact:  "Not available in database",
			Comments: "This antivirus vendor is not registered in our database. Please contact your administrator to add it.",
		}, nil
	case err != nil:
		return nil, fmt.Errorf("querying vendor: %w", err)
	}
	v.InDatabase = true
	return &v, nil
}

// AddVendor registers or updates an antivirus vendor contact record.
func (s *Store) AddVendor(name, contact, comments string) error {
	_, err := s.db.Exec(`
		INSERT INTO av_vendors (name, contact, comments) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET contact = excluded.contact, comments = excluded.comments`,
		name, contact, comments)
	if err != nil {
		return fmt.Errorf("upserting vendor: %w", err)
	}
	return nil
}
