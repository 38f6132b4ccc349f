package template

// Word lists backing the faker surface. Fixed content: changing these
// changes what a given seed generates.

var fakerGivenNames = []string{
	"Ada", "Grace", "Alan", "Edsger", "Barbara", "Donald", "Radia",
	"Dennis", "Margaret", "Claude", "Frances", "John", "Katherine",
	"Linus", "Hedy", "Niklaus",
}

var fakerSurnames = []string{
	"Lovelace", "Hopper", "Turing", "Dijkstra", "Liskov", "Knuth",
	"Perlman", "Ritchie", "Hamilton", "Shannon", "Allen", "McCarthy",
	"Johnson", "Torvalds", "Lamarr", "Wirth",
}

var fakerEmailDomains = []string{
	"example.com", "example.org", "example.net", "test.dev", "mail.test",
}

var fakerURLHosts = []string{
	"example.com", "example.org", "app.example.net", "api.test.dev",
}

var fakerURLPaths = []string{
	"home", "about", "products", "docs", "blog", "pricing", "status",
}

var fakerCities = []string{
	"Springfield", "Riverton", "Fairview", "Kingsport", "Maplewood",
	"Lakeside", "Brookfield", "Ashland", "Milton", "Clayton",
	"Georgetown", "Salem", "Dover", "Hudson", "Oakdale",
}

var fakerCountries = []string{
	"United States", "Canada", "United Kingdom", "Germany", "France",
	"Spain", "Italy", "Netherlands", "Sweden", "Norway", "Japan",
	"Australia", "Brazil", "India", "Mexico",
}

var fakerStreetNames = []string{
	"Main St", "Oak Ave", "Elm St", "Park Blvd", "Cedar Ln",
	"Maple Dr", "Pine Rd", "Lake Way", "Hill Ct", "River Ter",
}

var fakerCompanySuffixes = []string{
	"Inc", "LLC", "Group", "Labs", "Holdings", "Systems", "Partners",
}

var fakerCompanyStems = []string{
	"Acme", "Globex", "Initech", "Vandelay", "Hooli", "Umbra",
	"Northwind", "Contoso", "Stellar", "Quantum", "Vertex", "Apex",
}

var fakerProductAdjectives = []string{
	"Rustic", "Elegant", "Handcrafted", "Refined", "Sleek",
	"Gorgeous", "Practical", "Modern", "Vintage", "Premium",
	"Luxurious", "Compact", "Ergonomic", "Lightweight", "Durable",
}

var fakerProductMaterials = []string{
	"Steel", "Wooden", "Granite", "Rubber", "Cotton",
	"Silk", "Leather", "Bamboo", "Bronze", "Copper",
	"Ceramic", "Plastic", "Glass", "Marble", "Titanium",
}

var fakerProductNouns = []string{
	"Chair", "Table", "Lamp", "Keyboard", "Mouse",
	"Backpack", "Watch", "Wallet", "Headphones", "Speaker",
	"Notebook", "Pen", "Mug", "Bottle", "Gloves",
}
