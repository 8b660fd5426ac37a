// Package egress is a resilient outbound HTTP request layer.
//
// An Executor wraps every outbound call with per-provider rate limiting,
// circuit breaking, bounded priority queuing, and retry with exponential
// backoff. Providers are resolved from the request URL through a registry;
// unknown hosts fall back to isolated per-host buckets so one misbehaving
// endpoint cannot starve another.
//
// Basic usage:
//
//	ex, err := egress.New(egress.Config{
//		Providers: []provider.Config{
//			{Name: "github", Hosts: []string{"api.github.com"}},
//		},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ex.Close()
//
//	res, err := ex.Do(ctx, egress.Options{Target: "https://api.github.com/repos/golang/go"})
package egress
