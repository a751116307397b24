package targets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/capstan/pkg/engine"
)

// familyPatterns classifies a distribution identity string into a platform
// family. Order matters: the first matching pattern wins.
var familyPatterns = []struct {
	pattern *regexp.Regexp
	family  engine.Family
}{
	{regexp.MustCompile(`^Ubuntu|ubuntu`), engine.FamilyUbuntu},
	{regexp.MustCompile(`^debian|Debian|Forcepoint|Kali`), engine.FamilyDebian},
	{regexp.MustCompile(`^rhel|Red|Scientific|AlmaLinux|Rocky`), engine.FamilyRedhat},
	{regexp.MustCompile(`^CentOS|centos|clear-linux-os`), engine.FamilyCentOS},
	{regexp.MustCompile(`^coreos|Flatcar|flatcar`), engine.FamilyCoreOS},
	{regexp.MustCompile(`^SLES|SUSE|sles|opensuse-leap`), engine.FamilySuse},
	{regexp.MustCompile(`^Common Base Linux Mariner|mariner`), engine.FamilyMariner},
	{regexp.MustCompile(`^FreeBSD|freebsd`), engine.FamilyFreeBSD},
}

var versionPattern = regexp.MustCompile(`(\d+(?:\.\d+)*)`)

// classifyFamily maps a distribution identity string to a family.
func classifyFamily(identity string) (engine.Family, bool) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", false
	}
	for _, fp := range familyPatterns {
		if fp.pattern.MatchString(identity) {
			return fp.family, true
		}
	}
	return "", false
}

// detectProfile identifies the remote platform through an ordered probe
// chain. An unclassifiable system is a hard error, never a silent default.
func detectProfile(ctx context.Context, t *SSHTarget) (engine.PlatformProfile, error) {
	arch, err := detectArch(ctx, t)
	if err != nil {
		return engine.PlatformProfile{}, err
	}

	probes := []struct {
		name string
		fn   func(context.Context, *SSHTarget) (engine.Family, engine.Version, bool)
	}{
		{"os-release", probeOSRelease},
		{"lsb-release", probeLSBRelease},
		{"redhat-release", probeRedhatRelease},
		{"uname", probeUname},
		{"issue", probeIssue},
		{"release-files", probeReleaseFiles},
	}

	for _, probe := range probes {
		family, version, ok := probe.fn(ctx, t)
		if !ok {
			log.Debug().
				Str("target", t.id).
				Str("probe", probe.name).
				Msg("platform probe inconclusive, trying next")
			continue
		}
		return engine.PlatformProfile{Family: family, Version: version, Arch: arch}, nil
	}

	return engine.PlatformProfile{}, fmt.Errorf("unable to classify platform of target %s", t.id)
}

func detectArch(ctx context.Context, t *SSHTarget) (string, error) {
	res, err := t.Execute(ctx, "uname -m", engine.ExecOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to detect architecture: %w", err)
	}
	arch := strings.TrimSpace(res.Stdout)
	if arch == "" {
		return "", errors.New("uname -m returned no architecture")
	}
	return arch, nil
}

// probeOSRelease parses /etc/os-release, classifying NAME first and falling
// back to ID; the version comes from VERSION_ID.
func probeOSRelease(ctx context.Context, t *SSHTarget) (engine.Family, engine.Version, bool) {
	data, err := t.ReadFile(ctx, "/etc/os-release", false)
	if err != nil {
		return "", "", false
	}

	fields := parseKeyValues(string(data))
	family, ok := classifyFamily(fields["NAME"])
	if !ok {
		family, ok = classifyFamily(fields["ID"])
	}
	if !ok {
		return "", "", false
	}

	version := engine.Version(fields["VERSION_ID"])
	if version == "" {
		// Rolling releases carry no VERSION_ID; fall back to the
		// pretty name's numeric part, if any.
		if m := versionPattern.FindString(fields["PRETTY_NAME"]); m != "" {
			version = engine.Version(m)
		}
	}
	return family, version, true
}

func probeLSBRelease(ctx context.Context, t *SSHTarget) (engine.Family, engine.Version, bool) {
	res, err := t.Execute(ctx, "lsb_release -d", engine.ExecOptions{})
	if err != nil {
		return "", "", false
	}
	description := strings.TrimPrefix(strings.TrimSpace(res.Stdout), "Description:")
	family, ok := classifyFamily(strings.TrimSpace(description))
	if !ok {
		return "", "", false
	}
	return family, engine.Version(versionPattern.FindString(description)), true
}

func probeRedhatRelease(ctx context.Context, t *SSHTarget) (engine.Family, engine.Version, bool) {
	data, err := t.ReadFile(ctx, "/etc/redhat-release", false)
	if err != nil {
		return "", "", false
	}
	text := strings.TrimSpace(string(data))
	family, ok := classifyFamily(text)
	if !ok {
		return "", "", false
	}
	return family, engine.Version(versionPattern.FindString(text)), true
}

// probeUname catches BSDs, which carry no release files.
func probeUname(ctx context.Context, t *SSHTarget) (engine.Family, engine.Version, bool) {
	res, err := t.Execute(ctx, "uname -s", engine.ExecOptions{})
	if err != nil {
		return "", "", false
	}
	family, ok := classifyFamily(strings.TrimSpace(res.Stdout))
	if !ok {
		return "", "", false
	}

	var version engine.Version
	if rel, err := t.Execute(ctx, "uname -r", engine.ExecOptions{}); err == nil {
		version = engine.Version(versionPattern.FindString(rel.Stdout))
	}
	return family, version, true
}

func probeIssue(ctx context.Context, t *SSHTarget) (engine.Family, engine.Version, bool) {
	data, err := t.ReadFile(ctx, "/etc/issue", false)
	if err != nil {
		return "", "", false
	}
	text := strings.TrimSpace(string(data))
	family, ok := classifyFamily(text)
	if !ok {
		return "", "", false
	}
	return family, engine.Version(versionPattern.FindString(text)), true
}

// probeReleaseFiles is the last resort: distribution-specific release files
// whose presence alone identifies the family.
func probeReleaseFiles(ctx context.Context, t *SSHTarget) (engine.Family, engine.Version, bool) {
	releaseFiles := []struct {
		path   string
		family engine.Family
	}{
		{"/etc/debian_version", engine.FamilyDebian},
		{"/etc/SuSE-release", engine.FamilySuse},
		{"/etc/centos-release", engine.FamilyCentOS},
	}

	for _, rf := range releaseFiles {
		data, err := t.ReadFile(ctx, rf.path, false)
		if err != nil {
			continue
		}
		return rf.family, engine.Version(versionPattern.FindString(string(data))), true
	}
	return "", "", false
}

// parseKeyValues parses simple KEY=value lines (os-release, waagent.conf
// style). Malformed lines are skipped; surrounding quotes are stripped.
func parseKeyValues(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		fields[key] = value
	}
	return fields
}
