// Package providers ships the builtin capability descriptors: the guest
// agent controller, KVP pool access, the Hyper-V LIS driver set, the vmbus
// device lister, VM generation detection, and the utility capabilities
// (downloader, compiler, module info, service controller) the others depend
// on. All descriptors are compile-time static; Register wires them into a
// registry in precedence order.
package providers

import (
	"github.com/openfroyo/capstan/pkg/engine"
)

// Builtin capability identifiers.
const (
	// CapGuestAgent is the platform guest agent controller (waagent).
	CapGuestAgent engine.CapabilityID = "guest-agent"

	// CapKvp is the Hyper-V key-value-pair pool reader.
	CapKvp engine.CapabilityID = "kvp"

	// CapLisDriver is the Hyper-V Linux Integration Services driver set.
	CapLisDriver engine.CapabilityID = "lis-driver"

	// CapLsvmbus is the vmbus device lister.
	CapLsvmbus engine.CapabilityID = "lsvmbus"

	// CapVMGeneration reports the Hyper-V VM generation.
	CapVMGeneration engine.CapabilityID = "vm-generation"

	// CapDownloader is the remote download utility (wget or curl).
	CapDownloader engine.CapabilityID = "downloader"

	// CapCompiler is the remote C compiler.
	CapCompiler engine.CapabilityID = "compiler"

	// CapModuleInfo queries kernel module metadata.
	CapModuleInfo engine.CapabilityID = "module-info"

	// CapServiceController controls system services.
	CapServiceController engine.CapabilityID = "service-controller"
)

// Register wires every builtin descriptor into the registry. Registration
// order is matching precedence, so platform-specific variants go in ahead
// of generic ones.
func Register(r *engine.Registry) {
	r.MustRegister(downloaderDescriptor())
	r.MustRegister(compilerDescriptor())
	r.MustRegister(moduleInfoDescriptor())
	r.MustRegister(serviceControllerDescriptor())
	r.MustRegister(guestAgentDescriptor())

	// The direct-file variant must win on FreeBSD before the compiled
	// client claims the rest.
	r.MustRegister(kvpFreeBSDDescriptor())
	r.MustRegister(kvpCompiledDescriptor())

	r.MustRegister(lisDriverDescriptor())
	r.MustRegister(lsvmbusDescriptor())
	r.MustRegister(vmGenerationDescriptor())
}

// NewRegistry returns a registry populated with the builtin descriptors.
func NewRegistry() *engine.Registry {
	r := engine.NewRegistry()
	Register(r)
	return r
}
