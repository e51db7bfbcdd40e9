package loadgen

type pageDef struct {
	path  string
	title string
}

var pages = []pageDef{
	{"/", "Home"},
	{"/search", "Search"},
	{"/listing", "Listing"},
	{"/cart", "Cart"},
	{"/checkout", "Checkout"},
	{"/pricing", "Seller plans"},
}

type stepDef struct {
	event   string
	element string
	value   float64
}

// journey is the happy path a buyer follows; sessions mostly walk it in order
var journey = []stepDef{
	{event: "search", element: "search-submit"},
	{event: "view_item", element: "listing-card"},
	{event: "add_to_cart", element: "add-to-cart", value: 25},
	{event: "begin_checkout", element: "checkout"},
	{event: "purchase", element: "place-order", value: 60},
}

var (
	plans = []string{"free", "pro", "enterprise"}
	roles = []string{"buyer", "seller"}
)
