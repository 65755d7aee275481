package domain

// Collection names as they exist in the document store.
const (
	CollectionUsers           = "users"
	CollectionProducts        = "products"
	CollectionOrders          = "orders"
	CollectionReportedItems   = "reportedItems"
	CollectionAdvertisedItems = "advertiseItems"
)

// Entity ties a resource to its collection, payload schema and list filters.
type Entity struct {
	Name       string
	Collection string
	Schema     Schema
	Filters    FilterTable
}

// User: email is the lookup key; verified defaults to false until toggled.
var User = Entity{
	Name:       "user",
	Collection: CollectionUsers,
	Schema: Schema{
		Fields: []Field{
			{Name: "email", Kind: KindString, Required: true},
			{Name: "name", Kind: KindString},
			{Name: "role", Kind: KindString},
			{Name: "verified", Kind: KindBool},
		},
		Defaults: map[string]any{"verified": false},
	},
	Filters: FilterTable{
		{Param: "email", Field: "email"},
	},
}

// Product listing; category wins over email when both are supplied.
var Product = Entity{
	Name:       "product",
	Collection: CollectionProducts,
	Schema: Schema{
		Fields: []Field{
			{Name: "sellerEmail", Kind: KindString, Required: true},
			{Name: "category", Kind: KindString, Required: true},
			{Name: "title", Kind: KindString, Required: true},
			{Name: "description", Kind: KindString},
			{Name: "price", Kind: KindNumber, Required: true, NonNegative: true},
		},
	},
	Filters: FilterTable{
		{Param: "email", Field: "sellerEmail"},
		{Param: "category", Field: "category"},
	},
}

// Order is a completed purchase. Append-only in normal flow.
var Order = Entity{
	Name:       "order",
	Collection: CollectionOrders,
	Schema: Schema{
		Fields: []Field{
			{Name: "buyerEmail", Kind: KindString, Required: true},
			{Name: "productId", Kind: KindString, Required: true},
			{Name: "price", Kind: KindNumber, Required: true, NonNegative: true},
		},
	},
	Filters: FilterTable{
		{Param: "email", Field: "buyerEmail"},
	},
}

// ReportedItem annotates a product for moderation; it never mutates the product.
var ReportedItem = Entity{
	Name:       "reportedItem",
	Collection: CollectionReportedItems,
	Schema: Schema{
		Fields: []Field{
			{Name: "reportedProductId", Kind: KindString, Required: true},
			{Name: "reporterEmail", Kind: KindString, Required: true},
			{Name: "reason", Kind: KindString},
		},
	},
	Filters: FilterTable{
		{Param: "reportedId", Field: "reportedProductId"},
	},
}

// AdvertisedItem marks a product as actively promoted for sale.
var AdvertisedItem = Entity{
	Name:       "advertisedItem",
	Collection: CollectionAdvertisedItems,
	Schema: Schema{
		Fields: []Field{
			{Name: "productId", Kind: KindString, Required: true},
		},
	},
	Filters: FilterTable{
		{Param: "productId", Field: "productId"},
	},
}

// UserVerification selects the user flipped by the verify operation.
var UserVerification = FilterTable{
	{Param: "email", Field: "email"},
}
