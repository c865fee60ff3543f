// Package gami is the in-memory resource model of a rack-scale management
// agent.
//
// Every managed object (manager, chassis, system, drive, switch, port,
// zone, endpoint, PCIe device and function) lives in a typed store keyed
// by UUID. Parent links, scalar and list references, and many-to-many
// relation stores tie the objects together. Discovery gives each resource
// a temporary UUID; once its identity is known the stabilization
// coordinator renames it to a persistent UUID derived from its content and
// rewrites every reference to it, so no store is left pointing at the old
// UUID.
//
// # Packages
//
//   - model: the generic store, metadata, content hashing and REST ids
//   - relation: the parent/child/agent relation store
//   - stabilize: the rewrite registry and the stabilization coordinator
//   - resource: the concrete resource kinds
//   - components: the process-wide registry wiring stores, relations and rules
//   - command: the name-keyed command table on top of the registry
//   - query: CEL filters for store scans
//   - persistence: snapshots of the stores into badger or redis
//   - presence: agent liveness through etcd leases
//   - config: agent.yaml loading
//
// # Getting Started
//
//	fw, err := gami.New(gami.WithConfig("agent.yaml"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer gami.CloseWithLog(fw, nil, "gami framework")
//
//	if err := fw.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	drives := fw.Components().Drives
//	_ = drives.AddEntry(&resource.Drive{
//		Meta:         model.Meta{UUID: model.NewTemporaryUUID(), ParentUUID: chassisUUID},
//		SerialNumber: "S3EVNX0K",
//	})
//
//	stable, err := fw.Components().Stabilize(ctx, resource.KindDrive, tmpUUID)
//
// # Commands
//
// The command table exposes Get<Kind>Info, Get<Kind>Collection,
// Delete<Kind> and StabilizeResource with JSON parameters:
//
//	out, err := fw.Dispatch(ctx, "GetDriveCollection", []byte(`{"filter":"r.capacity_bytes > 1000000"}`))
//
// # Thread Safety
//
// Stores, relation stores, the coordinator and the command table are safe
// for concurrent use.
package gami
