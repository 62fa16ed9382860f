// Package firewall filters the traffic of virtual machine taps with ebtables,
// iptables and ip6tables.
//
// # Overview
//
// Rules are compiled into backend command lines and installed as a new
// generation of per-interface chains next to the live one. Only after the
// whole generation is in place is the old one removed and the new one
// renamed into its place. A failure at any step removes the new generation
// and leaves the live one alone.
//
// # Architecture
//
//	filter.Instance → Compiler → Command → Engine (phases) → Executor → tools
//
// # Key Types
//
//   - [Driver]: public entry point; serializes all operations process-wide
//   - [Engine]: generation lifecycle (build, populate, link, promote, roll back)
//   - [Compiler]: per-rule command rendering for the bridge and IP layers
//   - [ScriptExecutor], [DirectExecutor]: the two interchangeable [Executor]s
//   - [Prober]: tool discovery, firewalld passthrough and syntax quirks
//
// # Chain Naming
//
// Bridge-layer roots are libvirt-<P>-<if>, sub-chains <P>-<if>-<suffix>, and
// IP-layer roots <T><P>-<if> with T in {F, H}. The lifecycle letter P is J/P
// for the temporary generation and I/O for the active one. The chain names
// are the only state; nothing is stored on disk.
//
// # Basic Rulesets
//
// Interfaces without a full policy can get a MAC spoofing guard, a DHCP-only
// ruleset or a drop-all ruleset. See [Driver.ApplyBasicAllowRuleset].
package firewall
