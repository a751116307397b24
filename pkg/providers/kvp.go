package providers

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/openfroyo/capstan/pkg/engine"
)

// Kvp is the operation surface shared by both KVP variants: the compiled
// client on Linux and the direct pool-file reader on FreeBSD.
type Kvp interface {
	engine.Provider

	// PoolCount returns the number of KVP pools exposed by the host.
	PoolCount(ctx context.Context) (int, error)

	// PoolRecords returns the key/value records of one pool.
	PoolRecords(ctx context.Context, pool int) (map[string]string, error)

	// HostName returns the host name the hypervisor published, or empty
	// when the record is absent.
	HostName(ctx context.Context) (string, error)
}

// hostNamePool is the well-known pool carrying the HostName record.
const hostNamePool = 3

const (
	kvpCommandName = "kvp_client"
	kvpSourceURL   = "https://raw.githubusercontent.com/microsoft/" +
		"lis-test/master/WS2012R2/lisa/tools/KVP/kvp_client.c"
)

// kvpBinaryURLs maps machine architectures to prebuilt client binaries.
// Architectures outside the table build from source.
var kvpBinaryURLs = map[string]string{
	"x86_64": "https://raw.githubusercontent.com/microsoft/" +
		"lis-test/master/WS2012R2/lisa/tools/KVP/kvp_client64",
	"i686": "https://raw.githubusercontent.com/microsoft/" +
		"lis-test/master/WS2012R2/lisa/tools/KVP/kvp_client32",
}

var (
	// Pool is 0
	kvpPoolPattern = regexp.MustCompile(`(?m)^Pool is (\d+)\r?$`)
	// Key: HostName; Value: ABC000111222333
	kvpRecordPattern = regexp.MustCompile(`(?m)^Key: (.*); Value: (.*)\r?$`)
	// Num records is 16
	kvpCountPattern = regexp.MustCompile(`(?m)Num records is (\d+)\r?$`)
)

func kvpClientPath(t engine.Target) string {
	return path.Join(t.WorkDir(), kvpCommandName)
}

func kvpCompiledDescriptor() *engine.Descriptor {
	return &engine.Descriptor{
		Capability:   CapKvp,
		Name:         "kvp-compiled",
		Matches:      func(p engine.PlatformProfile) bool { return p.Family.IsLinux() },
		Command:      kvpCommandName,
		Dependencies: []engine.CapabilityID{CapDownloader, CapCompiler},
		Candidates: func(t engine.Target) []engine.Candidate {
			return []engine.Candidate{
				engine.Cmd(fmt.Sprintf("command -v %s", kvpClientPath(t))),
			}
		},
		Installable: true,
		Strategy: &engine.DownloadByArch{
			URLs:       kvpBinaryURLs,
			Executable: true,
			Fallback: &engine.BuildFromSource{
				SourceURL: kvpSourceURL,
				// c99 for defined exit statuses; c90 leaves them undefined.
				Std: "c99",
				Prerequisites: map[engine.Family][]string{
					engine.FamilyMariner: {"kernel-headers", "glibc-devel", "binutils"},
				},
			},
		},
		New: func(t engine.Target, _ []*engine.Resolved) engine.Provider {
			return &KvpClient{target: t}
		},
	}
}

// KvpClient reads KVP pools through the compiled client binary in the
// target's working directory.
type KvpClient struct {
	target engine.Target
}

// Capability implements engine.Provider.
func (k *KvpClient) Capability() engine.CapabilityID { return CapKvp }

// PoolCount implements Kvp.
func (k *KvpClient) PoolCount(ctx context.Context) (int, error) {
	res, err := k.target.Execute(ctx, kvpClientPath(k.target), engine.ExecOptions{})
	if err != nil {
		return 0, engine.WrapError(engine.KindCapabilityUnavailable,
			"failed to list KVP pools", err).WithCapability(CapKvp).WithTarget(k.target.ID())
	}
	return len(kvpPoolPattern.FindAllStringSubmatch(res.Stdout, -1)), nil
}

// PoolRecords implements Kvp. The record count is cross-checked against the
// client's own stats line; a mismatch is a verification inconsistency, not
// a silent partial result.
func (k *KvpClient) PoolRecords(ctx context.Context, pool int) (map[string]string, error) {
	cmd := fmt.Sprintf("%s %d", kvpClientPath(k.target), pool)
	// Some distros exit 4 on a successful pool read, Ubuntu 18.04 among
	// them.
	res, err := k.target.Execute(ctx, cmd, engine.ExecOptions{ExpectedExitCodes: []int{0, 4}})
	if err != nil {
		return nil, engine.WrapError(engine.KindCapabilityUnavailable,
			fmt.Sprintf("failed to read KVP pool %d", pool), err).
			WithCapability(CapKvp).WithTarget(k.target.ID())
	}

	records := make(map[string]string)
	for _, matched := range kvpRecordPattern.FindAllStringSubmatch(res.Stdout, -1) {
		records[matched[1]] = matched[2]
	}

	counted := kvpCountPattern.FindStringSubmatch(res.Stdout)
	if counted == nil {
		return nil, engine.NewError(engine.KindVerificationInconsistency,
			fmt.Sprintf("KVP pool %d output carries no record count", pool)).
			WithCapability(CapKvp).WithTarget(k.target.ID())
	}
	count, err := strconv.Atoi(counted[1])
	if err != nil {
		return nil, engine.WrapError(engine.KindVerificationInconsistency,
			fmt.Sprintf("unparseable KVP record count %q", counted[1]), err).
			WithCapability(CapKvp).WithTarget(k.target.ID())
	}
	if len(records) != count {
		return nil, engine.NewError(engine.KindVerificationInconsistency,
			fmt.Sprintf("KVP pool %d has %d records but reports %d", pool, len(records), count)).
			WithCapability(CapKvp).WithTarget(k.target.ID())
	}
	return records, nil
}

// HostName implements Kvp.
func (k *KvpClient) HostName(ctx context.Context) (string, error) {
	records, err := k.PoolRecords(ctx, hostNamePool)
	if err != nil {
		return "", err
	}
	return records["HostName"], nil
}

const kvpPoolDir = "/var/db/hyperv/pool"

// .kvp_pool_0
var kvpPoolFilePattern = regexp.MustCompile(`\.kvp_pool_(\d+)`)

func kvpFreeBSDDescriptor() *engine.Descriptor {
	return &engine.Descriptor{
		Capability: CapKvp,
		Name:       "kvp-freebsd",
		Matches:    func(p engine.PlatformProfile) bool { return p.Family == engine.FamilyFreeBSD },
		// Pool files are kernel-maintained; there is nothing to probe or
		// install.
		Detect: func(_ context.Context, _ engine.Target) (bool, error) {
			return true, nil
		},
		New: func(t engine.Target, _ []*engine.Resolved) engine.Provider {
			return &KvpPoolFiles{target: t}
		},
	}
}

// KvpPoolFiles reads KVP records straight from the FreeBSD pool files
// under /var/db/hyperv/pool.
type KvpPoolFiles struct {
	target engine.Target
}

// Capability implements engine.Provider.
func (k *KvpPoolFiles) Capability() engine.CapabilityID { return CapKvp }

// PoolCount implements Kvp by counting the pool files.
func (k *KvpPoolFiles) PoolCount(ctx context.Context) (int, error) {
	cmd := fmt.Sprintf("ls %s/.kvp_pool_*", kvpPoolDir)
	res, err := k.target.Execute(ctx, cmd, engine.ExecOptions{Elevated: true})
	if err != nil {
		return 0, engine.WrapError(engine.KindCapabilityUnavailable,
			"no KVP pool found", err).WithCapability(CapKvp).WithTarget(k.target.ID())
	}
	return len(kvpPoolFilePattern.FindAllString(res.Stdout, -1)), nil
}

// PoolRecords implements Kvp. Pool files hold NUL-delimited alternating
// key/value fields; empty fields are padding and skipped.
func (k *KvpPoolFiles) PoolRecords(ctx context.Context, pool int) (map[string]string, error) {
	file := fmt.Sprintf("%s/.kvp_pool_%d", kvpPoolDir, pool)
	data, err := k.target.ReadFile(ctx, file, true)
	if err != nil {
		return nil, engine.WrapError(engine.KindCapabilityUnavailable,
			fmt.Sprintf("failed to read KVP pool file %s", file), err).
			WithCapability(CapKvp).WithTarget(k.target.ID())
	}

	var fields []string
	for _, field := range strings.Split(string(data), "\x00") {
		if field != "" {
			fields = append(fields, field)
		}
	}

	records := make(map[string]string)
	for i := 0; i+1 < len(fields); i += 2 {
		records[fields[i]] = fields[i+1]
	}
	return records, nil
}

// HostName implements Kvp.
func (k *KvpPoolFiles) HostName(ctx context.Context) (string, error) {
	records, err := k.PoolRecords(ctx, hostNamePool)
	if err != nil {
		return "", err
	}
	return records["HostName"], nil
}
