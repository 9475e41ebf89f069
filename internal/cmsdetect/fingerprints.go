package cmsdetect

import "github.com/ad-scout/internal/types"

// weightedPattern is an HTML substring with its score contribution
type weightedPattern struct {
	pattern string
	score   int
}

// shopifyHTMLPatterns are matched against the lower-cased homepage HTML.
// CDN hosts score highest; generic strings like shopify.com score least.
var shopifyHTMLPatterns = []weightedPattern{
	{"cdn.shopify.com", 3},
	{"shopify.com", 1},
	{"/cdn/shop/", 2},
	{"shopify-analytics", 2},
	{"shopify.theme", 2},
	{"shopify.routes", 2},
	{"shopify.paymentbutton", 2},
	{"myshopify.com", 3},
	{"/cart.js", 1},
	{"shopify-section", 2},
	{"data-shopify", 2},
	{"shopify-features", 1},
	{"shopify_pay", 1},
	{"shop_pay", 1},
	{"monorail-edge.shopifysvc.com", 3},
	{"shopify.accesstoken", 2},
	{"window.shopify", 2},
	{"shopify.cdnhost", 2},
}

// shopifyHeaderKeys each add 2 to the score when present
var shopifyHeaderKeys = []string{
	"x-shopify-stage",
	"x-shopify-request-id",
	"x-sorting-hat-podid",
	"x-sorting-hat-shopid",
	"x-shopid",
}

// shopifyCookies each add 2 to the score when set
var shopifyCookies = []string{
	"_shopify_s",
	"_shopify_y",
	"cart_sig",
	"secure_customer_sig",
}

// shopifyProbeEndpoints are storefront JSON endpoints that only Shopify
// serves. A 200 JSON response from any of them confirms the platform.
var shopifyProbeEndpoints = []string{
	"/products.json?limit=1",
	"/cart.json",
	"/meta.json",
}

// secondaryPlatform is a non-Shopify platform fingerprint. The table is
// walked in order; the first platform with any matching pattern wins.
type secondaryPlatform struct {
	name       types.Platform
	patterns   []string
	confidence int
}

var secondaryPlatforms = []secondaryPlatform{
	{"WooCommerce", []string{"woocommerce", "wc-ajax", "wc-add-to-cart", "wc_cart", "wc-blocks"}, 90},
	{"WooCommerce", []string{"wp-content/plugins/woocommerce", "add_to_cart_button", "cart-contents"}, 75},
	{"WordPress", []string{"wp-content", "wp-includes", "wordpress", "wp-json", "/wp-admin", `name="generator" content="wordpress`, "powered by wordpress"}, 80},
	{"PrestaShop", []string{"prestashop", "/modules/ps_", "prestashop-page", "id_product="}, 90},
	{"PrestaShop", []string{"ps_shoppingcart", "ps_customersignin", "blockcart", "/themes/classic/"}, 75},
	{"Magento", []string{"magento", "mage-", "x-magento", "/static/frontend/magento"}, 90},
	{"Magento", []string{"varien", "mage/cookies", "checkout/cart", "catalogsearch/result"}, 70},
	{"Wix", []string{"wixstatic.com", "wix.com", "parastorage.com", "_wix_browser_sess", "wix-code-sdk", "wixapps.net"}, 90},
	{"Squarespace", []string{"squarespace.com", "static1.squarespace", "squarespace-cdn", "sqs-analytics", "data-squarespace-"}, 90},
	{"BigCommerce", []string{"bigcommerce", "cdn.bcapp", "bcappcdn", "bigcommerce.com", "stencil-", "cornerstone-"}, 85},
	{"Webflow", []string{"webflow.com", "assets.website-files.com", "data-wf-site", "webflow-production", "w-commerce"}, 90},
	{"Shopware", []string{"shopware", "sw-cms-", "sw-blocks", "/frontend/", "shopware.com"}, 85},
	{"OpenCart", []string{"opencart", "route=product", "route=checkout", "index.php?route="}, 80},
	{"Salesforce Commerce", []string{"demandware", "dwanalytics", "dw/shop", "sfcc", "salesforce commerce"}, 85},
	{"WiziShop", []string{"wizishop", "wizi-", "cdn.wizishop.com"}, 90},
	{"Oxatis", []string{"oxatis", "cdn.oxatis.com", "oxatis-cdn"}, 90},
	{"Ecwid", []string{"ecwid", "app.ecwid.com", "ecwid_product"}, 90},
	{"Jimdo", []string{"jimdo", "jimdocdn", "a.jimdo.com"}, 90},
	{"Drupal", []string{"drupal", "/sites/default/files", "drupal.org", "/core/misc/drupal"}, 80},
	{"Odoo", []string{"odoo", "/web/static/", "/website/static/", "odoo.com"}, 80},
	{"Typo3", []string{"typo3", "typo3conf", "typo3temp"}, 80},
	{"Joomla", []string{"joomla", "/components/com_", "/media/jui/", "option=com_"}, 80},
	{"Weebly", []string{"weebly", "weeblycloud", "editmysite.com"}, 90},
	{"Volusion", []string{"volusion", "vspfiles", "/v/vspfiles/"}, 85},
	{"Shift4Shop", []string{"3dcart", "shift4shop", "3dcartstores"}, 85},
	{"Snipcart", []string{"snipcart", "cdn.snipcart.com", "snipcart-add-item"}, 90},
	{"Gumroad", []string{"gumroad", "gumroad.com", "gumroad-overlay"}, 90},
	{"Kajabi", []string{"kajabi", "kajabi-cdn", "app.kajabi.com"}, 90},
	{"Teachable", []string{"teachable", "teachablecdn", "app.teachable.com"}, 90},
	{"Thinkific", []string{"thinkific", "thinkific.com", "thinkific-cdn"}, 90},
	{"Podia", []string{"podia", "app.podia.com", "podia-cdn"}, 90},
	{"Systeme.io", []string{"systeme.io", "systemeio", "app.systeme.io"}, 90},
	{"ClickFunnels", []string{"clickfunnels", "cf-styles", "cf2.com"}, 90},
	{"Kartra", []string{"kartra", "app.kartra.com", "kartra-cdn"}, 90},
	{"ThriveCart", []string{"thrivecart", "thrivecart.com"}, 90},
	{"SamCart", []string{"samcart", "app.samcart.com"}, 90},
	{"Tilda", []string{"tilda.cc", "tildacdn", "tilda-"}, 90},
	{"Duda", []string{"duda.co", "dudaone", "cdn.duda.co"}, 90},
	{"GoDaddy", []string{"godaddy", "img.godaddy.com", "godaddy-website-builder"}, 85},
	{"HubSpot", []string{"hubspot", "hs-scripts", "hscta", "hubspotusercontent"}, 85},
	{"Shoptet", []string{"shoptet", "shoptet.cz"}, 90},
	{"Lightspeed", []string{"lightspeed", "shoplightspeed", "seoshop"}, 85},
	{"Neto", []string{"neto.com.au", "netosuite"}, 85},
}
