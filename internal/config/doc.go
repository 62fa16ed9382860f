// Package config loads the driver configuration and rule policy files.
//
// The driver configuration is HCL:
//
//	schema_version = "1.0"
//	firewalld      = "auto"
//	executor       = "auto"
//	discovery      = "cli"
//
//	tools {
//	    ebtables = "/usr/sbin/ebtables"
//	}
//
//	log {
//	    level = "debug"
//	}
//
// Policies are HCL or YAML and describe the rules of one interface:
//
//	variables = {
//	    IP = ["10.0.0.1", "10.0.0.2"]
//	}
//
//	rule {
//	    protocol  = "tcp"
//	    direction = "out"
//	    action    = "accept"
//	    match = {
//	        srcipaddr    = "$IP"
//	        dstportstart = 80
//	    }
//	}
//
// [Policy.Instances] turns a policy into the rule instances the firewall
// driver compiles.
package config
