package versions

import (
	"strconv"
	"strings"

	"github.com/arthur-debert/tomcatd/pkg/ladder"
	"github.com/arthur-debert/tomcatd/pkg/serverxml"
)

var commonBin = []string{
	"bootstrap.jar",
	"catalina.sh",
	"catalina-tasks.xml",
	"ciphers.sh",
	"commons-daemon.jar",
	"configtest.sh",
	"digest.sh",
	"makebase.sh",
	"setclasspath.sh",
	"shutdown.sh",
	"startup.sh",
	"tomcat-juli.jar",
	"tool-wrapper.sh",
	"version.sh",
}

var commonConfLinks = []string{
	"catalina.policy",
	"catalina.properties",
	"context.xml",
	"jaspic-providers.xml",
	"logging.properties",
	"web.xml",
}

var commonConfSeeds = []string{
	"tomcat-users.xml",
}

var commonLib = []string{
	"annotations-api.jar",
	"catalina-ant.jar",
	"catalina-ha.jar",
	"catalina-ssi.jar",
	"catalina-storeconfig.jar",
	"catalina-tribes.jar",
	"catalina.jar",
	"el-api.jar",
	"jasper-el.jar",
	"jasper.jar",
	"jaspic-api.jar",
	"jsp-api.jar",
	"servlet-api.jar",
	"tomcat-api.jar",
	"tomcat-coyote.jar",
	"tomcat-dbcp.jar",
	"tomcat-i18n-de.jar",
	"tomcat-i18n-es.jar",
	"tomcat-i18n-fr.jar",
	"tomcat-i18n-ja.jar",
	"tomcat-jdbc.jar",
	"tomcat-jni.jar",
	"tomcat-util-scan.jar",
	"tomcat-util.jar",
	"tomcat-websocket.jar",
	"websocket-api.jar",
}

// Layouts of Tomcat 5.5 and 6.0 instances that full rebuilds clean up.
var legacyLayout = []string{
	"common",
	"server",
	"shared",
	"bin/profile.d/catalina.sh",
	"bin/profile.d/java-disable.sh",
	"bin/profile.d/jakarta-oro-2.0.sh",
}

var listeners = []string{
	"org.apache.catalina.startup.VersionLoggerListener",
	"org.apache.catalina.core.AprLifecycleListener",
	"org.apache.catalina.core.JreMemoryLeakPreventionListener",
	"org.apache.catalina.mbeans.GlobalResourcesLifecycleListener",
	"org.apache.catalina.core.ThreadLocalLeakPreventionListener",
}

func move(path, from, to string) ladder.Transition {
	return ladder.Transition{Path: path, Old: from, New: to}
}

func with(base []string, extra ...string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

func init() {
	register(&Descriptor{
		Version:   "8.5",
		Package:   "apache-tomcat_8_5",
		Template:  "apache-tomcat-8.5",
		JDK:       "jdk1.8",
		binFiles:  commonBin,
		confLinks: commonConfLinks,
		confSeeds: commonConfSeeds,
		libFiles:  commonLib,
		retired:   legacyLayout,
		Profile: serverxml.Profile{
			Listeners:       listeners,
			SecretAttribute: "secret",
		},
		Ladder: ladder.MustNew("apache-tomcat_8_5",
			ladder.Milestone{Release: "8.5.84-1"},
			ladder.Milestone{Release: "8.5.88-1", Transitions: []ladder.Transition{
				move("lib/ecj.jar", "lib/ecj-4.20.jar", "lib/ecj-4.26.jar"),
			}},
			ladder.Milestone{Release: "8.5.96-1", Transitions: []ladder.Transition{
				move("lib/ecj.jar", "lib/ecj-4.26.jar", "lib/ecj-4.27.jar"),
			}},
			ladder.Milestone{Release: "8.5.100-1", Transitions: []ladder.Transition{
				move("bin/tomcat-native.tar.gz", "bin/tomcat-native.tar.gz", ladder.NoLink),
			}},
		),
	})

	register(&Descriptor{
		Version:   "9.0",
		Package:   "apache-tomcat_9_0",
		Template:  "apache-tomcat-9.0",
		JDK:       "jdk17",
		binFiles:  commonBin,
		confLinks: commonConfLinks,
		confSeeds: commonConfSeeds,
		libFiles:  commonLib,
		retired:   with(legacyLayout, "bin/profile.d/jdk1.8.sh"),
		Profile: serverxml.Profile{
			Listeners:       listeners,
			SecretAttribute: "secret",
		},
		Ladder: ladder.MustNew("apache-tomcat_9_0",
			ladder.Milestone{Release: "9.0.80-1"},
			ladder.Milestone{Release: "9.0.85-1", Transitions: []ladder.Transition{
				move("lib/ecj.jar", "lib/ecj-4.27.jar", "lib/ecj-4.29.jar"),
			}},
			ladder.Milestone{Release: "9.0.89-1", Transitions: []ladder.Transition{
				move("lib/ecj.jar", "lib/ecj-4.29.jar", "lib/ecj-4.30.jar"),
				move("bin/tomcat-native.tar.gz", "bin/tomcat-native.tar.gz", ladder.NoLink),
			}},
			ladder.Milestone{Release: "9.0.93-1", Transitions: []ladder.Transition{
				move("lib/tomcat-i18n-pt-BR.jar", ladder.NoLink, "lib/tomcat-i18n-pt-BR.jar"),
			}},
		),
	})

	register(&Descriptor{
		Version:   "10.1",
		Package:   "apache-tomcat_10_1",
		Template:  "apache-tomcat-10.1",
		JDK:       "jdk17",
		binFiles:  commonBin,
		confLinks: commonConfLinks,
		confSeeds: commonConfSeeds,
		libFiles:  with(commonLib, "tomcat-i18n-pt-BR.jar"),
		retired:   with(legacyLayout, "bin/profile.d/jdk1.8.sh", "lib/tomcat-jni.jar.disabled"),
		Profile: serverxml.Profile{
			Listeners:         listeners,
			SecretAttribute:   "secret",
			MaxParameterCount: 1000,
		},
		Ladder: ladder.MustNew("apache-tomcat_10_1",
			ladder.Milestone{Release: "10.1.16-1"},
			ladder.Milestone{Release: "10.1.20-1", Transitions: []ladder.Transition{
				move("lib/ecj.jar", "lib/ecj-4.27.jar", "lib/ecj-4.29.jar"),
				move("lib/jakartaee-migration.jar", "lib/jakartaee-migration-1.0.7-shaded.jar", "lib/jakartaee-migration-1.0.8-shaded.jar"),
			}},
			ladder.Milestone{Release: "10.1.24-1", Transitions: []ladder.Transition{
				move("lib/ecj.jar", "lib/ecj-4.29.jar", "lib/ecj-4.31.jar"),
			}},
		),
	})
}

// ladderCompare orders dotted version identifiers numerically.
func ladderCompare(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}
