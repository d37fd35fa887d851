package versions

import (
	"fmt"
	"strings"

	"github.com/arthur-debert/tomcatd/pkg/types"
)

// RenderScript returns bin/tomcat, the start/stop script the lifecycle
// controller runs as the instance user. catalina.sh maintains the PID file
// named by CATALINA_PID.
func (d *Descriptor) RenderScript(inst types.Instance) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "#!/bin/sh\n")
	fmt.Fprintf(&b, "# Generated by tomcatd for %s (Tomcat %s). Do not edit.\n\n", inst.Name, d.Version)
	fmt.Fprintf(&b, "TOMCAT_HOME=%s\n", shellQuote(inst.Root))
	b.WriteString(`CATALINA_BASE="$TOMCAT_HOME"
CATALINA_HOME="$TOMCAT_HOME"
CATALINA_TMPDIR="$TOMCAT_HOME/temp"
CATALINA_PID="$TOMCAT_HOME/` + PIDPath + `"
CATALINA_OUT="$TOMCAT_HOME/logs/catalina.out"
export TOMCAT_HOME CATALINA_BASE CATALINA_HOME CATALINA_TMPDIR CATALINA_PID CATALINA_OUT

for profile in "$TOMCAT_HOME"/bin/profile.d/*.sh; do
    [ -r "$profile" ] && . "$profile"
done

cd "$TOMCAT_HOME" || exit 1

case "$1" in
    start)
        exec "$TOMCAT_HOME/bin/catalina.sh" start
        ;;
    stop)
        exec "$TOMCAT_HOME/bin/catalina.sh" stop 30 -force
        ;;
    run)
        exec "$TOMCAT_HOME/bin/catalina.sh" run
        ;;
    *)
        echo "Usage: $0 {start|stop|run}" >&2
        exit 1
        ;;
esac
`)
	return []byte(b.String())
}

// SitesScript returns bin/profile.d/sites.sh exporting the enabled member
// sites in list-first order.
func SitesScript(inst types.Instance) []byte {
	var names []string
	for _, s := range inst.EnabledSites() {
		names = append(names, s.Name)
	}
	return []byte(fmt.Sprintf("export SITES=\"%s\"\n", strings.Join(names, " ")))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
