// Package network reads the host state that decides whether bridge filtering
// is effective: the bridge netfilter sysctls and the filtered link itself.
//
// Nothing here changes the host. Findings are reported to the caller, which
// logs them as environment warnings.
package network
