package redisclient

const (
	// products:version -> counter bumped on every catalog change
	keyProductsVersion = "products:version"

	// products:v{version}:page:{page}:{limit} -> JSON []Product
	keyProductPage = "products:v%d:page:%d:%d"

	// idempotency:order:{user_id}:{key} -> JSON OrderReceipt
	keyOrderReceipt = "idempotency:order:%d:%s"

	// lock:order:{user_id}:{key} -> held while a keyed order is in flight
	keyOrderLock = "lock:order:%d:%s"
)
