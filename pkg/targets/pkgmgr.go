package targets

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/capstan/pkg/engine"
)

// packageTimeout bounds package manager invocations, which can legitimately
// take minutes on a cold mirror.
const packageTimeout = 10 * time.Minute

// packageCommands is the per-family package manager command set.
type packageCommands struct {
	// update refreshes the package index before the first install.
	// Empty when the family's manager needs no explicit refresh.
	update string

	// install builds the non-interactive install command line.
	install func(names []string) string

	// query builds the installed-state query for one package.
	query func(name string) string

	// installed interprets the query result.
	installed func(res *engine.ExecResult) bool
}

func packageCommandsFor(family engine.Family) (*packageCommands, error) {
	switch {
	case family.IsDebianLike():
		return &packageCommands{
			update: "apt-get update",
			install: func(names []string) string {
				return fmt.Sprintf("env DEBIAN_FRONTEND=noninteractive apt-get install -y %s",
					strings.Join(names, " "))
			},
			query: func(name string) string {
				return fmt.Sprintf("dpkg-query -W -f '${Status}' %s", name)
			},
			installed: func(res *engine.ExecResult) bool {
				return res.ExitCode == 0 && strings.Contains(res.Stdout, "install ok installed")
			},
		}, nil

	case family.IsRedhatLike():
		return &packageCommands{
			install: func(names []string) string {
				return fmt.Sprintf("yum install -y %s", strings.Join(names, " "))
			},
			query:     rpmQuery,
			installed: exitZero,
		}, nil

	case family == engine.FamilyMariner:
		return &packageCommands{
			install: func(names []string) string {
				return fmt.Sprintf("tdnf install -y %s", strings.Join(names, " "))
			},
			query:     rpmQuery,
			installed: exitZero,
		}, nil

	case family == engine.FamilySuse:
		return &packageCommands{
			install: func(names []string) string {
				return fmt.Sprintf("zypper --non-interactive install %s", strings.Join(names, " "))
			},
			query:     rpmQuery,
			installed: exitZero,
		}, nil

	case family == engine.FamilyFreeBSD:
		return &packageCommands{
			install: func(names []string) string {
				return fmt.Sprintf("pkg install -y %s", strings.Join(names, " "))
			},
			query: func(name string) string {
				return fmt.Sprintf("pkg info %s", name)
			},
			installed: exitZero,
		}, nil

	default:
		return nil, fmt.Errorf("no package manager known for family %s", family)
	}
}

func rpmQuery(name string) string {
	return fmt.Sprintf("rpm -q %s", name)
}

func exitZero(res *engine.ExecResult) bool {
	return res.ExitCode == 0
}
