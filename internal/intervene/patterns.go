package intervene

// rule binds a set of case-insensitive substrings to the intervention the
// match produces. Rules are checked in order; the first match wins.
type rule struct {
	substrings  []string
	category    string
	title       string
	description string
	steps       []string
}

// manualRules are build or test errors the assistant cannot fix itself:
// project configuration, signing, target membership, toolchain mismatches.
// Matching one of these pauses the run with remediation steps.
var manualRules = []rule{
	{
		substrings:  []string{"no such module 'xctest'"},
		category:    "xcode_target",
		title:       "Test File Not in Test Target",
		description: "A test file was created but not added to the test target in Xcode.",
		steps: []string{
			"1. Open the Xcode project",
			"2. In Project Navigator, find the affected test file(s)",
			"3. Select the file and open File Inspector (Cmd+Option+1)",
			"4. Under 'Target Membership', check the test target checkbox",
			"5. Build the project (Cmd+B) to verify the fix",
			"6. Resume the run",
		},
	},
	{
		substrings:  []string{"no such module 'swiftdata'", "no such module 'swiftui'"},
		category:    "xcode_target",
		title:       "Source File Not in App Target",
		description: "A source file was created but not added to the main app target.",
		steps: []string{
			"1. Open the Xcode project",
			"2. Find the affected source file(s) in Project Navigator",
			"3. Select the file and open File Inspector (Cmd+Option+1)",
			"4. Under 'Target Membership', check the app target checkbox",
			"5. Build the project (Cmd+B) to verify",
			"6. Resume the run",
		},
	},
	{
		substrings:  []string{"duplicate symbol"},
		category:    "xcode_target",
		title:       "Duplicate Symbol Error",
		description: "A symbol is defined in multiple places, often due to a file being in multiple targets.",
		steps: []string{
			"1. Open Xcode and identify the duplicate file",
			"2. Check File Inspector for each file with the symbol",
			"3. Ensure each file is only in ONE target (either app OR test, not both)",
			"4. For shared code, create a proper shared framework/module",
			"5. Clean build folder (Cmd+Shift+K) and rebuild",
		},
	},
	{
		substrings:  []string{"code signing error", "provisioning profile", "signing certificate", "codesigning"},
		category:    "signing",
		title:       "Code Signing Configuration Required",
		description: "The project requires code signing configuration.",
		steps: []string{
			"1. Open Xcode project settings",
			"2. Select the target and go to 'Signing & Capabilities'",
			"3. Select your development team",
			"4. For local development, enable 'Automatically manage signing'",
			"5. Ensure you have a valid Apple Developer account configured",
		},
	},
	{
		substrings:  []string{"framework not found", "library not found"},
		category:    "dependency",
		title:       "Missing Framework or Library",
		description: "A required framework or library is not linked to the target.",
		steps: []string{
			"1. Open Xcode project settings",
			"2. Select the target and go to 'Build Phases'",
			"3. Expand 'Link Binary With Libraries'",
			"4. Click '+' and add the missing framework",
			"5. If using SPM, check Package Dependencies in project settings",
		},
	},
	{
		substrings:  []string{"unable to find a destination matching", "simulator device not found", "no destination"},
		category:    "simulator",
		title:       "Simulator Not Available",
		description: "The specified simulator device is not available.",
		steps: []string{
			"1. Open Xcode > Window > Devices and Simulators",
			"2. Check available simulators",
			"3. If the needed simulator is missing, add it via the '+' button",
			"4. Update config.yaml with the correct simulator name and OS version",
			"5. Alternatively, run: xcrun simctl list devices",
		},
	},
	{
		substrings:  []string{"entitlement"},
		category:    "entitlements",
		title:       "Entitlements Configuration Required",
		description: "App entitlements need to be configured in Xcode.",
		steps: []string{
			"1. Open Xcode project settings",
			"2. Select target > Signing & Capabilities",
			"3. Click '+Capability' to add required entitlements",
			"4. Configure the entitlement values as needed",
		},
	},
	{
		substrings:  []string{"compiled with swift", "swift version"},
		category:    "swift_version",
		title:       "Swift Version Mismatch",
		description: "There is a Swift version incompatibility.",
		steps: []string{
			"1. Check your Xcode version",
			"2. In project settings, verify Swift Language Version",
			"3. Clean derived data: rm -rf ~/Library/Developer/Xcode/DerivedData",
			"4. Clean and rebuild the project",
		},
	},
	{
		substrings:  []string{"bridging header", "bridging-header.h"},
		category:    "bridging_header",
		title:       "Objective-C Bridging Header Issue",
		description: "There is an issue with the Objective-C bridging header.",
		steps: []string{
			"1. Check if the bridging header file exists at the specified path",
			"2. In Build Settings, search for 'Objective-C Bridging Header'",
			"3. Verify the path is correct relative to the project root",
			"4. Create the bridging header if missing",
		},
	},
}

// recoverablePatterns are compiler errors the assistant can usually fix on
// its own. When a repeated error matches one of these, the run keeps
// retrying instead of pausing.
var recoverablePatterns = []string{
	"cannot find type",
	"cannot find",
	"has no member",
	"undeclared type",
	"use of undeclared",
	"expected declaration",
	"expected expression",
	"missing argument",
	"extra argument",
	"cannot convert",
	"type mismatch",
	"ambiguous",
	"protocol",
	"does not conform",
	"initializer",
	"closure",
	"return type",
	"generic parameter",
}
