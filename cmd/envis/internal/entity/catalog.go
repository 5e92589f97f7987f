// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package entity

// ServiceType identifies one entry of the fixed service catalog.
type ServiceType string

// The service catalog. Capability flags for each type are fixed at compile
// time; user configuration cannot change them.
const (
	// TypePostgres is the PostgreSQL database engine.
	TypePostgres ServiceType = "postgres"

	// TypeMySQL is the MySQL database engine.
	TypeMySQL ServiceType = "mysql"

	// TypeRedis is the Redis key-value store.
	TypeRedis ServiceType = "redis"

	// TypeCaddy is the web/reverse-proxy server.
	TypeCaddy ServiceType = "caddy"

	// TypeNode is the Node.js language runtime.
	TypeNode ServiceType = "nodejs"

	// TypePython is the Python language runtime.
	TypePython ServiceType = "python"

	// TypePHP is the PHP language runtime.
	TypePHP ServiceType = "php"

	// TypeHosts is the hosts-file editor. Writes require elevation.
	TypeHosts ServiceType = "hosts"

	// TypeSSLCA is the local SSL certificate authority.
	TypeSSLCA ServiceType = "sslca"

	// TypeCustom is a user-defined entry the core treats as opaque.
	TypeCustom ServiceType = "custom"
)

// Capabilities describes what lifecycle a service type participates in.
//
// The three flags drive which reconciliation loops the scheduler starts for a
// service and which operations the CLI offers.
type Capabilities struct {
	// NeedsDownload is true when the type has a binary acquisition lifecycle.
	NeedsDownload bool

	// CanRun is true when the type has an OS runtime status distinct from
	// its activation flag.
	CanRun bool

	// NeedsVersion is true when ServiceData.Version must be non-empty.
	NeedsVersion bool
}

// catalog holds the compile-time capability flags per type.
var catalog = map[ServiceType]Capabilities{
	TypePostgres: {NeedsDownload: true, CanRun: true, NeedsVersion: true},
	TypeMySQL:    {NeedsDownload: true, CanRun: true, NeedsVersion: true},
	TypeRedis:    {NeedsDownload: true, CanRun: true, NeedsVersion: true},
	TypeCaddy:    {NeedsDownload: true, CanRun: true, NeedsVersion: true},
	TypeNode:     {NeedsDownload: true, CanRun: false, NeedsVersion: true},
	TypePython:   {NeedsDownload: true, CanRun: false, NeedsVersion: true},
	TypePHP:      {NeedsDownload: true, CanRun: true, NeedsVersion: true},
	TypeHosts:    {NeedsDownload: false, CanRun: false, NeedsVersion: false},
	TypeSSLCA:    {NeedsDownload: false, CanRun: false, NeedsVersion: false},
	TypeCustom:   {NeedsDownload: false, CanRun: true, NeedsVersion: false},
}

// Capabilities returns the capability flags for the type.
//
// Unknown types get the zero Capabilities value, which opts them out of
// every lifecycle; this matches how the UI treats unrecognized entries.
func (t ServiceType) Capabilities() Capabilities {
	return catalog[t]
}

// Known reports whether the type is part of the fixed catalog.
func (t ServiceType) Known() bool {
	_, ok := catalog[t]
	return ok
}

// Elevated reports whether lifecycle operations on this type may require
// an elevation credential (hosts-file class operations).
func (t ServiceType) Elevated() bool {
	return t == TypeHosts || t == TypeSSLCA
}

// KnownTypes returns the catalog entries in stable display order.
func KnownTypes() []ServiceType {
	return []ServiceType{
		TypePostgres, TypeMySQL, TypeRedis, TypeCaddy,
		TypeNode, TypePython, TypePHP,
		TypeHosts, TypeSSLCA, TypeCustom,
	}
}
