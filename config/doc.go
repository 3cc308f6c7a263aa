// Package config loads the YAML configuration of a knncache node.
//
// Memory limits accept either a percentage of physical memory ("50%") or a
// byte size ("4GiB", "512MB"). Durations use Go syntax ("90s", "2m").
//
//	node:
//	  id: node-1
//	  roles: [data, cluster_manager]
//	cache:
//	  limit: 50%
//	  expire_after: 3h
//	breaker:
//	  unset_percentage: 75
//	  poll_interval: 2m
//	cluster:
//	  mode: nats
//	  nats_url: nats://127.0.0.1:4222
//	indices:
//	  - name: products
//	    dir: /var/lib/knncache/products
//	    space: cosinesimil
//
// A Reloader re-reads the file periodically or on SIGHUP and hands changed
// configurations to a callback.
package config
