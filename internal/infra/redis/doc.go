// Package redis provides the Redis connection used by the optional queue
// dispatch mode and the cross-instance sweep lock.
//
// Initialize the client and take the poller lock:
//
//	client, err := redis.New(ctx, &cfg.Redis, log)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	lock := redis.NewSweepLock(client, "qualitygate:poller:sweep", time.Minute)
//	release, err := lock.Acquire(ctx)
//	if errors.Is(err, redis.ErrLockHeld) {
//		return nil // another instance is sweeping
//	}
//	defer release()
package redis
