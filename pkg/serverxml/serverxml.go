// Package serverxml renders conf/server.xml from instance and site state.
//
// Output is a pure function of its inputs: attributes are emitted in a
// fixed order and hosts in list-first order, so an unchanged instance
// renders byte-identical XML and the atomic writer leaves the file alone.
package serverxml

import (
	"bytes"
	"strconv"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/beevik/etree"
)

// Banner prefixes every generated server.xml. Manual instances get exactly
// this prefix stripped from their hand-maintained copy.
const Banner = `<!--
  Generated by tomcatd. This file is rebuilt on every reconciliation and
  local changes are replaced. Put the instance in manual mode to maintain
  it by hand.
-->
`

// Profile carries what differs between Tomcat major versions.
type Profile struct {
	Listeners []string
	// SecretAttribute names the AJP shared secret attribute.
	SecretAttribute string
	// MaxParameterCount is emitted on connectors when non-zero.
	MaxParameterCount int
}

// Validate reports configuration inconsistencies that make an instance
// impossible to render.
func Validate(inst types.Instance) error {
	ajp := inst.AJPWorkers()
	if len(ajp) == 0 {
		return inconsistent(inst, "no AJP worker")
	}
	if len(ajp) > 1 {
		return inconsistent(inst, "more than one AJP worker").WithDetail("workers", len(ajp))
	}
	if inst.ShutdownPort == 0 {
		return inconsistent(inst, "shutdown port is 0")
	}
	if inst.Topology == types.Private && len(inst.Sites) != 1 {
		return inconsistent(inst, "private instance must have exactly one site").WithDetail("sites", len(inst.Sites))
	}
	return nil
}

func inconsistent(inst types.Instance, msg string) *errors.TomcatdError {
	return errors.Newf(errors.ErrConfigInconsistent, "%s: %s", inst.Name, msg).
		WithDetail("instance", inst.Name)
}

// Render returns the full file content, banner included.
func Render(inst types.Instance, p Profile) ([]byte, error) {
	if err := Validate(inst); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	server := doc.CreateElement("Server")
	server.CreateAttr("port", strconv.Itoa(inst.ShutdownPort))
	server.CreateAttr("shutdown", inst.ShutdownKey)

	for _, l := range p.Listeners {
		server.CreateElement("Listener").CreateAttr("className", l)
	}

	service := server.CreateElement("Service")
	service.CreateAttr("name", "Catalina")

	ajp := inst.AJPWorkers()[0]
	for _, w := range inst.Workers {
		addConnector(service, inst, w, p)
	}

	sites := inst.EnabledSites()
	engine := service.CreateElement("Engine")
	engine.CreateAttr("name", "Catalina")
	engine.CreateAttr("defaultHost", defaultHost(sites))
	engine.CreateAttr("jvmRoute", ajp.Name)

	if len(sites) == 0 {
		host := engine.CreateElement("Host")
		host.CreateAttr("name", "localhost")
		host.CreateAttr("appBase", "webapps")
		host.CreateAttr("unpackWARs", "false")
		host.CreateAttr("autoDeploy", "false")
	}
	for _, site := range sites {
		addHost(engine, inst, site)
	}

	doc.Indent(2)
	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrInternal, "rendering server.xml for %s", inst.Name)
	}

	var out bytes.Buffer
	out.WriteString(Banner)
	out.Write(body)
	return out.Bytes(), nil
}

func addConnector(service *etree.Element, inst types.Instance, w types.Worker, p Profile) {
	c := service.CreateElement("Connector")
	c.CreateAttr("port", strconv.Itoa(w.Port))
	if w.Bind != "" {
		c.CreateAttr("address", w.Bind)
	}
	if w.IsAJP() {
		c.CreateAttr("protocol", "AJP/1.3")
		c.CreateAttr("redirectPort", "8443")
		if w.Secret != "" {
			attr := p.SecretAttribute
			if attr == "" {
				attr = "secret"
			}
			c.CreateAttr("secretRequired", "true")
			c.CreateAttr(attr, w.Secret)
		} else {
			c.CreateAttr("secretRequired", "false")
		}
	} else {
		c.CreateAttr("protocol", "HTTP/1.1")
		c.CreateAttr("connectionTimeout", "20000")
	}
	if inst.MaxPostSize != 0 {
		c.CreateAttr("maxPostSize", strconv.Itoa(inst.MaxPostSize))
	}
	if p.MaxParameterCount != 0 {
		c.CreateAttr("maxParameterCount", strconv.Itoa(p.MaxParameterCount))
	}
	c.CreateAttr("URIEncoding", "UTF-8")
}

func defaultHost(sites []types.Site) string {
	if len(sites) == 0 {
		return "localhost"
	}
	return hostName(sites[0])
}

func hostName(site types.Site) string {
	if site.PrimaryHostname != "" {
		return site.PrimaryHostname
	}
	return site.Name
}

func appBase(inst types.Instance, site types.Site) string {
	switch {
	case site.Base != "":
		return site.Base + "/webapps"
	case inst.Topology == types.Private:
		return "webapps"
	default:
		return "webapps/" + site.Name
	}
}

func addHost(engine *etree.Element, inst types.Instance, site types.Site) {
	host := engine.CreateElement("Host")
	host.CreateAttr("name", hostName(site))
	host.CreateAttr("appBase", appBase(inst, site))
	host.CreateAttr("workDir", "work/Catalina/"+site.Name)
	host.CreateAttr("unpackWARs", strconv.FormatBool(inst.UnpackWARs))
	host.CreateAttr("autoDeploy", strconv.FormatBool(inst.AutoDeploy))
	host.CreateAttr("undeployOldVersions", strconv.FormatBool(inst.UndeployOldVersions))

	for _, alias := range site.Aliases {
		if alias == hostName(site) {
			continue
		}
		host.CreateElement("Alias").SetText(alias)
	}
	for _, ctx := range site.Contexts {
		addContext(host, ctx)
	}
}

func addContext(host *etree.Element, ctx types.Context) {
	c := host.CreateElement("Context")
	c.CreateAttr("path", ctx.Path)
	c.CreateAttr("docBase", ctx.DocBase)
	c.CreateAttr("privileged", strconv.FormatBool(ctx.Privileged))
	c.CreateAttr("reloadable", strconv.FormatBool(ctx.Reloadable))

	for _, p := range ctx.Parameters {
		el := c.CreateElement("Parameter")
		el.CreateAttr("name", p.Name)
		el.CreateAttr("value", p.Value)
		el.CreateAttr("override", strconv.FormatBool(p.Override))
		if p.Description != "" {
			el.CreateAttr("description", p.Description)
		}
	}
	for _, ds := range ctx.DataSources {
		el := c.CreateElement("Resource")
		el.CreateAttr("name", ds.Name)
		el.CreateAttr("auth", "Container")
		el.CreateAttr("type", "javax.sql.DataSource")
		el.CreateAttr("driverClassName", ds.DriverClassName)
		el.CreateAttr("url", ds.URL)
		el.CreateAttr("username", ds.Username)
		el.CreateAttr("password", ds.Password)
		el.CreateAttr("maxTotal", strconv.Itoa(ds.MaxActive))
		el.CreateAttr("maxIdle", strconv.Itoa(ds.MaxIdle))
		el.CreateAttr("maxWaitMillis", strconv.Itoa(ds.MaxWait))
	}
}
